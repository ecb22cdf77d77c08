package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/outreach"
)

var sendCmd = &cobra.Command{
	Use:   "send <application-id>",
	Short: "Send an approved application",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		send(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("channel", "c", outreach.ChannelEmail, "delivery channel (email, linkedin, hh)")
}

func send(cmd *cobra.Command, appID string) {
	ctx := context.Background()
	e := setup(ctx)
	defer e.Close()

	channel, _ := cmd.Flags().GetString("channel")
	svc, err := e.outreach(ctx, channel)
	if err != nil {
		e.logger.Fatal("building the outreach service", zap.String("channel", channel), zap.Error(err))
	}

	application, err := svc.Send(ctx, channel, appID)
	switch {
	case errors.Is(err, outreach.ErrQueued):
		e.logger.Warn("deferred, daily quota is used up",
			zap.String("application_id", appID),
			zap.String("hint", "run "+app+" quota and retry after the reset time"),
		)
	case err != nil:
		e.logger.Fatal("sending", zap.String("application_id", appID), zap.String("channel", channel), zap.Error(err))
	default:
		e.logger.Info("sent",
			zap.String("application_id", application.ID),
			zap.String("channel", channel),
			zap.String("status", string(application.Status)),
		)
	}
}
