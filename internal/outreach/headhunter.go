package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/jobpilot/internal/headhunter"
	"github.com/spigell/jobpilot/internal/model"
)

// Applier submits negotiations on hh.ru.
type Applier interface {
	GetMineResumes(ctx context.Context) (*headhunter.Resumes, error)
	Apply(ctx context.Context, resumeID, vacancyID, message string) error
}

// HeadhunterChannel applies to hh postings with one of the candidate's resumes.
type HeadhunterChannel struct {
	client      Applier
	resumeTitle string
}

// NewHeadhunterChannel uses the resume titled resumeTitle, or the first one
// when the title is empty.
func NewHeadhunterChannel(client Applier, resumeTitle string) *HeadhunterChannel {
	return &HeadhunterChannel{client: client, resumeTitle: strings.TrimSpace(resumeTitle)}
}

func (h *HeadhunterChannel) resume(ctx context.Context) (*headhunter.Resume, error) {
	resumes, err := h.client.GetMineResumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("get resumes: %w", err)
	}
	if resumes.Len() == 0 {
		return nil, errors.New("no resumes on the account")
	}
	if h.resumeTitle == "" {
		return resumes.Items[0], nil
	}

	resume := resumes.FindByTitle(h.resumeTitle)
	if resume == nil {
		return nil, fmt.Errorf("resume %q not found, available: %s", h.resumeTitle, strings.Join(resumes.Titles(), ", "))
	}
	return resume, nil
}

// VacancyID returns the hh vacancy id of a posting.
func VacancyID(posting *model.Posting) (string, error) {
	prefix := headhunter.Platform + ":"
	if posting.Platform != headhunter.Platform || !strings.HasPrefix(posting.ExternalID, prefix) {
		return "", fmt.Errorf("posting %s is not an %s vacancy", posting.ID, headhunter.Platform)
	}
	return strings.TrimPrefix(posting.ExternalID, prefix), nil
}

// Apply sends the negotiation with message as the cover letter.
func (h *HeadhunterChannel) Apply(ctx context.Context, posting *model.Posting, message string) error {
	vacancyID, err := VacancyID(posting)
	if err != nil {
		return err
	}
	resume, err := h.resume(ctx)
	if err != nil {
		return err
	}
	return h.client.Apply(ctx, resume.ID, vacancyID, message)
}
