package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/filtering"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/outreach"
)

const (
	PromptYes     = "Yes"
	PromptNo      = "No"
	PromptApprove = "Approve"
	PromptReject  = "Reject"
	PromptSkip    = "Skip"
	PromptExit    = "Exit"
	PromptExclude = "Reject and append to exclude file"
)

var errExit = errors.New("exit requested")

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Approve or reject queued and pending matches",
	Run: func(cmd *cobra.Command, _ []string) {
		review(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().BoolP("auto-approve", "y", false, "approve created applications without asking")
}

func review(cmd *cobra.Command) {
	ctx := context.Background()
	e := setup(ctx)
	defer e.Close()

	userID := e.userID()
	svc, err := e.outreach(ctx, "")
	if err != nil {
		e.logger.Fatal("building the outreach service", zap.Error(err))
	}
	matches, err := e.matching(ctx)
	if err != nil {
		e.logger.Fatal("building the matching engine", zap.Error(err))
	}

	queued, err := matches.GetQueuedMatches(ctx, userID)
	if err != nil {
		e.logger.Fatal("getting queued matches", zap.Error(err))
	}
	pending, err := matches.GetPendingMatches(ctx, userID)
	if err != nil {
		e.logger.Fatal("getting pending matches", zap.Error(err))
	}

	candidates := mergeMatches(queued, pending)
	if len(candidates) == 0 {
		e.logger.Info("exiting", zap.String("reason", "nothing to review"))
		return
	}
	e.logger.Info("matches to review", zap.Int("count", len(candidates)))

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	for _, m := range candidates {
		if err := reviewMatch(ctx, e, svc, userID, m, autoApprove); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			e.logger.Fatal("reviewing", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
}

// mergeMatches keeps queue order first and drops duplicates.
func mergeMatches(lists ...[]*model.Match) []*model.Match {
	seen := make(map[string]bool)
	var out []*model.Match
	for _, list := range lists {
		for _, m := range list {
			if seen[m.ID] || m.Status != model.MatchPending {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func reviewMatch(ctx context.Context, e *env, svc *outreach.Service, userID string, m *model.Match, autoApprove bool) error {
	label := matchLabel(m)
	if p, err := e.store.GetPosting(ctx, m.PostingID); err == nil {
		label = fmt.Sprintf("%3d %s / %s / %s", m.Score, p.Title, p.Company, p.SourceURL)
	}
	e.logger.Info(label, zap.String("reasoning", m.Reasoning), zap.Strings("skill_gaps", m.SkillGaps))

	items := []string{PromptApprove, PromptReject}
	if e.cfg.Scrape.Filters.ExcludeFile != "" {
		items = append(items, PromptExclude)
	}
	prompt := promptui.Select{
		Label: "Choose an action and press ENTER",
		Items: append(items, PromptSkip, PromptExit),
	}
	_, action, err := prompt.Run()
	if err != nil {
		return err
	}

	switch action {
	case PromptApprove:
		draft, err := svc.ApproveMatch(ctx, m.ID, userID)
		if err != nil {
			return err
		}
		if draft.Status != model.StatusDraft {
			e.logger.Info("application already exists", zap.String("application_id", draft.ID), zap.String("status", string(draft.Status)))
			return nil
		}
		e.logger.Info("application drafted", zap.String("application_id", draft.ID))

		if !autoApprove {
			confirm := promptui.Select{
				Label: "Approve the application for sending?",
				Items: []string{PromptYes, PromptNo},
			}
			_, answer, err := confirm.Run()
			if err != nil {
				return err
			}
			if answer != PromptYes {
				return nil
			}
		}

		if _, err := svc.Approve(ctx, draft.ID, userID); err != nil {
			return err
		}
		e.logger.Info("application approved", zap.String("application_id", draft.ID),
			zap.String("hint", app+" send "+draft.ID+" --channel email|linkedin|hh"))
		return nil
	case PromptReject:
		if _, err := svc.RejectMatch(ctx, m.ID, userID); err != nil {
			return err
		}
		e.logger.Info("match rejected", zap.String("match_id", m.ID))
		return nil
	case PromptExclude:
		if _, err := svc.RejectMatch(ctx, m.ID, userID); err != nil {
			return err
		}
		return excludePosting(ctx, e, m.PostingID)
	case PromptSkip:
		return nil
	case PromptExit:
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// excludePosting appends the posting to the exclude file so later scrapes drop
// it, and deactivates it so it is never scored again.
func excludePosting(ctx context.Context, e *env, postingID string) error {
	p, err := e.store.GetPosting(ctx, postingID)
	if err != nil {
		return err
	}

	path := e.cfg.Scrape.Filters.ExcludeFile
	excluded, err := filtering.ReadExcludeFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		excluded, err = &filtering.ExcludedPostings{}, nil
	}
	if err != nil {
		return fmt.Errorf("reading exclude file: %w", err)
	}

	excluded.AppendPostings(p)
	if err := excluded.ToFile(path); err != nil {
		return fmt.Errorf("writing exclude file: %w", err)
	}
	if err := e.store.DeactivatePosting(ctx, p.ID); err != nil {
		return err
	}

	e.logger.Info("appended to exclude file", zap.String("filename", path), zap.String("posting_id", p.ExternalID))
	return nil
}
