package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <application-id> [new-status]",
	Short: "Show or change an application status",
	Long: `Without new-status, status prints the application and, with --history, its
audit trail. With new-status, it moves the application through the state machine,
e.g. Delivered, Responded, Failed, Retry or Cancelled.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		status(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringP("notes", "n", "", "notes for the audit trail")
	statusCmd.Flags().Bool("history", false, "print the audit trail")
}

func status(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	e := setup(ctx)
	defer e.Close()

	appID := args[0]
	svc := e.applications()

	if len(args) == 2 {
		to, err := model.ParseApplicationStatus(args[1])
		if err != nil {
			e.logger.Fatal("parsing the status", zap.Error(err))
		}
		notes, _ := cmd.Flags().GetString("notes")
		if _, err := svc.ChangeStatus(ctx, appID, e.userID(), to, notes); err != nil {
			e.logger.Fatal("updating the status", zap.String("application_id", appID), zap.Error(err))
		}
	}

	application, err := e.store.GetApplication(ctx, appID)
	if err != nil {
		e.logger.Fatal("getting the application", zap.String("application_id", appID), zap.Error(err))
	}
	e.logger.Info("application",
		zap.String("application_id", application.ID),
		zap.String("match_id", application.MatchID),
		zap.String("status", string(application.Status)),
		zap.Timep("sent_at", application.SentAt),
	)

	if history, _ := cmd.Flags().GetBool("history"); !history {
		return
	}
	entries, err := svc.History(ctx, appID)
	if err != nil {
		e.logger.Fatal("getting the audit trail", zap.Error(err))
	}
	for _, entry := range entries {
		e.logger.Info(entry.Action,
			zap.Time("at", entry.At),
			zap.String("from", string(entry.From)),
			zap.String("to", string(entry.To)),
			zap.String("notes", entry.Notes),
		)
	}
}
