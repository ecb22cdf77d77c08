package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's outreach quota",
	Run: func(cmd *cobra.Command, _ []string) {
		quota(cmd)
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)

	quotaCmd.Flags().StringP("platform", "p", "linkedin", "platform the quota applies to")
	quotaCmd.Flags().StringP("action", "a", "", "only check whether this action would be queued (connection, message)")
}

func quota(cmd *cobra.Command) {
	ctx := context.Background()
	e := setup(ctx)
	defer e.Close()

	platform, _ := cmd.Flags().GetString("platform")
	limiter := e.throttle(platform)
	userID := e.userID()

	if raw, _ := cmd.Flags().GetString("action"); raw != "" {
		action, err := model.ParseActionType(raw)
		if err != nil {
			e.logger.Fatal("parsing the action", zap.Error(err))
		}
		queued, err := limiter.ShouldQueueOperation(ctx, userID, action)
		if err != nil {
			e.logger.Fatal("checking the quota", zap.Error(err))
		}
		e.logger.Info("quota check", zap.String("action", string(action)), zap.Bool("queued", queued))
		return
	}

	status, err := limiter.GetQuotaStatus(ctx, userID)
	if err != nil {
		e.logger.Fatal("getting the quota status", zap.Error(err))
	}

	// do not bother error since the status is a plain struct
	pretty, _ := json.MarshalIndent(status, "", "  ")
	e.logger.Info(string(pretty),
		zap.Int("connection_requests_left", status.ConnectionRequests.Remaining()),
		zap.Int("messages_left", status.Messages.Remaining()),
	)
}
