package filtering

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

// ContainsRedFlag reports whether any term appears, case-insensitively, in the
// combined title, company and description.
func ContainsRedFlag(title, company, description string, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company + " " + description)
	for _, flag := range redFlags {
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

type redFlagsFilter struct {
	disabled bool
	reason   string
	terms    []string
}

// NewRedFlags creates a filter that removes postings mentioning any configured term.
func NewRedFlags() Filter {
	return &redFlagsFilter{}
}

func (f *redFlagsFilter) Name() string { return "red_flags" }

func (f *redFlagsFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *redFlagsFilter) IsEnabled() bool { return !f.disabled }

func (f *redFlagsFilter) Validate(cfg *Config) error {
	f.terms = nil
	if cfg == nil {
		return nil
	}
	for _, term := range cfg.RedFlags {
		if term = strings.TrimSpace(term); term != "" {
			f.terms = append(f.terms, term)
		}
	}
	return nil
}

func (f *redFlagsFilter) Apply(_ context.Context, deps Deps, postings []*model.Posting) ([]*model.Posting, Step, error) {
	initial := len(postings)
	kept, excluded := keep(postings, func(p *model.Posting) bool {
		return ContainsRedFlag(p.Title, p.Company, p.Description, f.terms)
	})

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding postings with red flags",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *redFlagsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"terms": strconv.Itoa(len(f.terms))},
	}
}
