package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

type duplicatesFilter struct {
	disabled bool
	reason   string
}

// NewDuplicates creates a filter that removes postings already stored and
// repeats within the batch. Duplicates are expected and never an error.
func NewDuplicates() Filter {
	return &duplicatesFilter{}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *duplicatesFilter) IsEnabled() bool { return !f.disabled }

func (f *duplicatesFilter) Validate(*Config) error { return nil }

func (f *duplicatesFilter) Apply(ctx context.Context, deps Deps, postings []*model.Posting) ([]*model.Posting, Step, error) {
	initial := len(postings)
	if deps.Dedup == nil {
		return postings, Step{}, fmt.Errorf("deduplicator is required")
	}

	seen := make(map[string]struct{}, len(postings))
	kept := make([]*model.Posting, 0, len(postings))
	var excluded []string

	for _, p := range postings {
		if err := ctx.Err(); err != nil {
			return postings, Step{}, err
		}
		if _, ok := seen[p.ExternalID]; ok {
			excluded = append(excluded, p.ExternalID)
			continue
		}
		seen[p.ExternalID] = struct{}{}

		dup, err := deps.Dedup.IsDuplicate(ctx, p.ExternalID)
		if err != nil {
			return postings, Step{}, fmt.Errorf("check %s: %w", p.ExternalID, err)
		}
		if dup {
			excluded = append(excluded, p.ExternalID)
			continue
		}
		kept = append(kept, p)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Debug("skipping already known postings",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *duplicatesFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
