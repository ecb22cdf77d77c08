package filtering

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

// ExcludedPostings is the on-disk list of postings the user never wants to see.
type ExcludedPostings struct {
	Items []*ExcludedPosting
}

// ExcludedPosting is one entry of an exclude file.
type ExcludedPosting struct {
	ExternalID string
	URL        string
	Company    string
	ExcludedAt time.Time
}

// ReadExcludeFile loads an exclude file. An empty file is an empty list.
func ReadExcludeFile(path string) (*ExcludedPostings, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludedPostings{}, nil
	}

	var excluded ExcludedPostings
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, err
	}
	return &excluded, nil
}

// AppendPostings adds postings to the list with the current time.
func (e *ExcludedPostings) AppendPostings(postings ...*model.Posting) {
	for _, p := range postings {
		e.Items = append(e.Items, &ExcludedPosting{
			ExternalID: p.ExternalID,
			URL:        p.SourceURL,
			Company:    p.Company,
			ExcludedAt: time.Now().UTC(),
		})
	}
}

// ExternalIDs returns the set of excluded ids.
func (e *ExcludedPostings) ExternalIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(e.Items))
	for _, item := range e.Items {
		ids[item.ExternalID] = struct{}{}
	}
	return ids
}

// ToFile writes the list as indented JSON, replacing the file.
func (e *ExcludedPostings) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

type excludeFileFilter struct {
	disabled bool
	reason   string
	path     string
}

// NewExcludeFile creates a filter that removes postings contained in the exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *excludeFileFilter) IsEnabled() bool { return !f.disabled }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, postings []*model.Posting) ([]*model.Posting, Step, error) {
	initial := len(postings)
	if f.path == "" {
		return postings, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	excluded, err := ReadExcludeFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return postings, Step{Initial: initial, Dropped: 0, Left: initial}, nil
		}
		return postings, Step{}, fmt.Errorf("getting excluded postings from file: %w", err)
	}

	ids := excluded.ExternalIDs()
	kept, removed := keep(postings, func(p *model.Posting) bool {
		_, ok := ids[p.ExternalID]
		return ok
	})

	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding postings based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_postings", removed),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(removed), Left: len(kept)}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
