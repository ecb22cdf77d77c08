// Package store is the relational persistence layer of the pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/jobpilot/internal/model"
)

// ErrDuplicate is returned when a posting with the same external id already exists.
var ErrDuplicate = errors.New("duplicate external id")

// ErrStaleStatus is returned when an application's status changed between read and write.
var ErrStaleStatus = errors.New("application status changed concurrently")

// Postings is the deduplicating posting accessor.
type Postings interface {
	PostingExists(ctx context.Context, externalID string) (bool, error)
	// InsertPosting stores p and fills p.ID. It returns ErrDuplicate when the
	// external id is already taken; the stored record is left unchanged.
	InsertPosting(ctx context.Context, p *model.Posting) error
	GetPosting(ctx context.Context, id string) (*model.Posting, error)
	// UnmatchedPostings returns up to limit active postings without a match
	// for userID, in creation order.
	UnmatchedPostings(ctx context.Context, userID string, limit int) ([]*model.Posting, error)
	DeactivatePosting(ctx context.Context, id string) error
}

// Profiles reads candidate profiles.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Matches persists match records.
type Matches interface {
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	FindMatch(ctx context.Context, userID, postingID string) (*model.Match, error)
	// InsertMatch stores m unless a match for the same pair exists, in which
	// case the existing record is returned and created is false.
	InsertMatch(ctx context.Context, m *model.Match) (stored *model.Match, created bool, err error)
	SetMatchReview(ctx context.Context, id string, status model.MatchStatus, inQueue bool) (*model.Match, error)
	ListMatches(ctx context.Context, userID string, minScore int) ([]*model.Match, error)
	ListQueuedMatches(ctx context.Context, userID string) ([]*model.Match, error)
	ListPendingMatches(ctx context.Context, userID string) ([]*model.Match, error)
}

// ThrottleLedger is the append-only record of rate-limited actions.
type ThrottleLedger interface {
	CountThrottleEvents(ctx context.Context, userID string, action model.ActionType, from, to time.Time) (int, error)
	// InsertThrottleEventBelow appends ev only if fewer than ceiling events of
	// the same user and action exist in [from, to). The check and the insert
	// are atomic with respect to other callers.
	InsertThrottleEventBelow(ctx context.Context, ev *model.ThrottleEvent, ceiling int, from, to time.Time) (bool, error)
	// DeleteThrottleEvent releases a reservation whose action did not happen.
	DeleteThrottleEvent(ctx context.Context, id string) error
}

// Applications persists outreach applications and their audit trail.
type Applications interface {
	CreateApplication(ctx context.Context, app *model.Application, entry *model.AuditEntry) error
	GetApplication(ctx context.Context, id string) (*model.Application, error)
	GetApplicationByMatch(ctx context.Context, matchID string) (*model.Application, error)
	// TransitionApplication moves the application from → to and appends entry
	// in one transaction. sentAt is written only when non-nil. ErrStaleStatus
	// is returned when the stored status is no longer from.
	TransitionApplication(ctx context.Context, id string, from, to model.ApplicationStatus, sentAt *time.Time, entry *model.AuditEntry) (*model.Application, error)
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, applicationID string) ([]*model.AuditEntry, error)
}

// Store is the full relational surface used by the pipeline.
type Store interface {
	Postings
	Profiles
	Matches
	ThrottleLedger
	Applications
	Close() error
}
