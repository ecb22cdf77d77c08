// Package outreach moves applications through the approval state machine and
// delivers them over email, LinkedIn and hh.ru.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/matching"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/store"
	"github.com/spigell/jobpilot/internal/throttle"
)

var (
	// ErrNotApproved is returned when a send is attempted on an application
	// that is not in the Approved state.
	ErrNotApproved = errors.New("application is not approved")
	// ErrQueued is returned when today's quota is spent. The send is deferred,
	// not failed, and the application keeps its status.
	ErrQueued = errors.New("outreach deferred until quota resets")
	// ErrChannelUnavailable is returned when a channel was not configured.
	ErrChannelUnavailable = errors.New("outreach channel is not configured")
)

const (
	ChannelEmail      = "email"
	ChannelLinkedIn   = "linkedin"
	ChannelHeadhunter = "hh"
)

// Audit actions written besides status changes.
const (
	AuditCreated         = "Created"
	AuditStatusChanged   = "StatusChanged"
	AuditEmailSent       = "EmailSent"
	AuditLinkedInSent    = "LinkedInSent"
	AuditNegotiationSent = "NegotiationSent"
	AuditDeferred        = "Deferred"
	AuditError           = "Error"
)

// Store is the persistence the outreach service needs.
type Store interface {
	store.Postings
	store.Profiles
	store.Matches
	store.Applications
}

// Service owns every application status change.
type Service struct {
	store    Store
	matches  matching.Service
	composer ai.Composer
	limiter  *throttle.Manager
	logger   *zap.Logger

	email      EmailSender
	recipients RecipientResolver
	platform   PlatformSender
	hh         *HeadhunterChannel
	notifier   Notifier

	now func() time.Time

	paceMu     sync.Mutex
	lastAction map[string]time.Time
	slots      map[string]chan struct{}
}

type Option func(*Service)

func WithEmail(sender EmailSender, recipients RecipientResolver) Option {
	return func(s *Service) {
		s.email = sender
		if recipients != nil {
			s.recipients = recipients
		}
	}
}

func WithPlatformSender(sender PlatformSender) Option {
	return func(s *Service) { s.platform = sender }
}

func WithHeadhunter(channel *HeadhunterChannel) Option {
	return func(s *Service) { s.hh = channel }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st Store, matches matching.Service, composer ai.Composer, limiter *throttle.Manager, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:      st,
		matches:    matches,
		composer:   composer,
		limiter:    limiter,
		logger:     log,
		recipients: PostingContact{},
		notifier:   nopNotifier{},
		now:        func() time.Time { return time.Now().UTC() },
		lastAction: make(map[string]time.Time),
		slots:      make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApproveMatch approves the match and opens a Draft application for it. An
// existing application for the match is returned as is.
func (s *Service) ApproveMatch(ctx context.Context, matchID, userID string) (*model.Application, error) {
	m, err := s.matches.ApproveMatch(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetApplicationByMatch(ctx, m.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	app := &model.Application{
		UserID:    userID,
		MatchID:   m.ID,
		Status:    model.StatusDraft,
		CreatedAt: s.now(),
	}
	entry := &model.AuditEntry{Action: AuditCreated, To: model.StatusDraft, Notes: "match approved"}
	if err := s.store.CreateApplication(ctx, app, entry); err != nil {
		return nil, fmt.Errorf("create application for match %s: %w", m.ID, err)
	}

	s.logger.Info("application drafted",
		zap.String(logger.FieldApplicationID, app.ID),
		zap.String(logger.FieldMatchID, m.ID),
		zap.String(logger.FieldUserID, userID),
	)
	return app, nil
}

// RejectMatch rejects the match and the application drafted from it, if any.
func (s *Service) RejectMatch(ctx context.Context, matchID, userID string) (*model.Match, error) {
	m, err := s.matches.RejectMatch(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	app, err := s.store.GetApplicationByMatch(ctx, m.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return m, nil
		}
		return nil, err
	}
	if model.IsTransitionAllowed(app.Status, model.StatusRejected) {
		if _, err := s.UpdateApplicationStatus(ctx, app.ID, model.StatusRejected, "match rejected"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Approve is the human approval gate: Draft → Approved, owner only.
func (s *Service) Approve(ctx context.Context, appID, userID string) (*model.Application, error) {
	app, err := s.owned(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	return s.UpdateApplicationStatus(ctx, app.ID, model.StatusApproved, "approved by "+userID)
}

// Cancel withdraws an application the user owns.
func (s *Service) Cancel(ctx context.Context, appID, userID string) (*model.Application, error) {
	app, err := s.owned(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	return s.UpdateApplicationStatus(ctx, app.ID, model.StatusCancelled, "cancelled by "+userID)
}

// ChangeStatus moves an application the user owns to the given status.
// Approved and Cancelled go through Approve and Cancel.
func (s *Service) ChangeStatus(ctx context.Context, appID, userID string, to model.ApplicationStatus, notes string) (*model.Application, error) {
	switch to {
	case model.StatusApproved:
		return s.Approve(ctx, appID, userID)
	case model.StatusCancelled:
		return s.Cancel(ctx, appID, userID)
	}
	app, err := s.owned(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	if notes == "" {
		notes = "set by " + userID
	}
	return s.UpdateApplicationStatus(ctx, app.ID, to, notes)
}

func (s *Service) owned(ctx context.Context, appID, userID string) (*model.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, fmt.Errorf("application %s: %w", appID, model.ErrUnauthorized)
	}
	return app, nil
}

// UpdateApplicationStatus is the only place an application's status changes.
// Disallowed transitions return *model.InvalidTransitionError. SentAt is set
// only when entering Sent.
func (s *Service) UpdateApplicationStatus(ctx context.Context, appID string, to model.ApplicationStatus, notes string) (*model.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}

	from := app.Status
	if !model.IsTransitionAllowed(from, to) {
		return nil, &model.InvalidTransitionError{ApplicationID: appID, From: from, To: to}
	}

	now := s.now()
	var sentAt *time.Time
	if to == model.StatusSent {
		sentAt = &now
	}

	entry := &model.AuditEntry{Action: AuditStatusChanged, From: from, To: to, Notes: notes, At: now}
	updated, err := s.store.TransitionApplication(ctx, appID, from, to, sentAt, entry)
	if err != nil {
		return nil, fmt.Errorf("transition application %s %s -> %s: %w", appID, from, to, err)
	}

	s.logger.Info("application status changed",
		zap.String(logger.FieldApplicationID, appID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.notify(ctx, Event{
		Type:          EventStatusChanged,
		UserID:        updated.UserID,
		ApplicationID: appID,
		From:          string(from),
		To:            string(to),
		Notes:         notes,
		At:            now,
	})
	return updated, nil
}

// History returns the audit trail of an application.
func (s *Service) History(ctx context.Context, appID string) ([]*model.AuditEntry, error) {
	if _, err := s.store.GetApplication(ctx, appID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, appID)
}

func (s *Service) notify(ctx context.Context, event Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("notification failed",
			zap.String("event", event.Type),
			zap.String(logger.FieldApplicationID, event.ApplicationID),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, appID, action, notes string) {
	entry := &model.AuditEntry{ApplicationID: appID, Action: action, Notes: notes, At: s.now()}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String(logger.FieldApplicationID, appID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
