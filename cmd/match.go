package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score unmatched postings for the user",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Int("min-score", -1, "only report matches with at least this score (default is matching.min-score, then 80)")
	matchCmd.Flags().String("posting", "", "score a single posting id")
	matchCmd.Flags().Bool("list", false, "list stored matches instead of scoring new postings")
	matchCmd.Flags().Bool("refresh", false, "drop the user's cached match views first")
}

type userInvalidator interface {
	InvalidateUser(ctx context.Context, userID string)
}

func match(cmd *cobra.Command) {
	ctx := context.Background()
	e := setup(ctx)
	defer e.Close()

	userID := e.userID()
	svc, err := e.matching(ctx)
	if err != nil {
		e.logger.Fatal("building the matching engine", zap.Error(err))
	}

	if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
		if c, ok := svc.(userInvalidator); ok {
			c.InvalidateUser(ctx, userID)
		}
	}

	if postingID, _ := cmd.Flags().GetString("posting"); postingID != "" {
		m, err := svc.CalculateMatch(ctx, userID, postingID)
		if err != nil {
			e.logger.Fatal("scoring the posting", zap.Error(err))
		}
		printMatches(e.logger, []*model.Match{m})
		return
	}

	minScore := e.cfg.Matching.MinScore
	if cmd.Flags().Changed("min-score") {
		minScore, _ = cmd.Flags().GetInt("min-score")
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		if !cmd.Flags().Changed("min-score") {
			minScore = 0
		}
		matches, err := svc.ListMatches(ctx, userID, minScore)
		if err != nil {
			e.logger.Fatal("listing matches", zap.Error(err))
		}
		printMatches(e.logger, matches)
		return
	}

	matches, err := svc.FindMatchesForUser(ctx, userID, minScore)
	if err != nil {
		e.logger.Fatal("finding matches", zap.Error(err))
	}
	if len(matches) == 0 {
		e.logger.Info("no new matches")
		return
	}
	printMatches(e.logger, matches)
}

func matchLabel(m *model.Match) string {
	queued := ""
	if m.IsInQueue {
		queued = " [queued]"
	}
	return fmt.Sprintf("%s %3d %s%s", m.ID, m.Score, m.Status, queued)
}

func printMatches(lg *zap.Logger, matches []*model.Match) {
	for _, m := range matches {
		lg.Info(matchLabel(m),
			zap.String("posting_id", m.PostingID),
			zap.String("reasoning", m.Reasoning),
			zap.Strings("skill_gaps", m.SkillGaps),
		)
	}
	lg.Info("matches", zap.Int("count", len(matches)))
}
