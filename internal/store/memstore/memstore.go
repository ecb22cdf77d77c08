// Package memstore is an in-process store used for dry runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/store"
)

// Store keeps every entity in memory behind one mutex.
type Store struct {
	mu sync.Mutex

	postings   []*model.Posting
	byExternal map[string]*model.Posting
	byID       map[string]*model.Posting

	profiles     map[string]*model.Profile
	matches      []*model.Match
	throttle     []*model.ThrottleEvent
	applications map[string]*model.Application
	audit        []*model.AuditEntry

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		byExternal:   make(map[string]*model.Posting),
		byID:         make(map[string]*model.Posting),
		profiles:     make(map[string]*model.Profile),
		applications: make(map[string]*model.Application),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// PutProfile stores or replaces a profile. Profiles are owned outside the pipeline.
func (s *Store) PutProfile(p *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
}

// PostingCount returns the number of stored postings.
func (s *Store) PostingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.postings)
}

func (s *Store) PostingExists(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byExternal[externalID]
	return ok, nil
}

func (s *Store) InsertPosting(_ context.Context, p *model.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExternal[p.ExternalID]; ok {
		return fmt.Errorf("posting %s: %w", p.ExternalID, store.ErrDuplicate)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = s.now()
	}
	cp := *p
	s.postings = append(s.postings, &cp)
	s.byExternal[cp.ExternalID] = &cp
	s.byID[cp.ID] = &cp
	return nil
}

func (s *Store) GetPosting(_ context.Context, id string) (*model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, model.NotFoundError("posting", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UnmatchedPostings(_ context.Context, userID string, limit int) ([]*model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]bool)
	for _, m := range s.matches {
		if m.UserID == userID {
			matched[m.PostingID] = true
		}
	}

	out := make([]*model.Posting, 0)
	for _, p := range s.postings {
		if len(out) >= limit {
			break
		}
		if !p.IsActive || matched[p.ID] {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeactivatePosting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return model.NotFoundError("posting", id)
	}
	p.IsActive = false
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, model.NotFoundError("profile", userID)
	}
	cp := *p
	return &cp, nil
}

func copyMatch(m *model.Match) *model.Match {
	cp := *m
	cp.SkillGaps = append([]string{}, m.SkillGaps...)
	return &cp
}

func (s *Store) findMatchLocked(pred func(*model.Match) bool) *model.Match {
	for _, m := range s.matches {
		if pred(m) {
			return m
		}
	}
	return nil
}

func (s *Store) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMatchLocked(func(m *model.Match) bool { return m.ID == id })
	if m == nil {
		return nil, model.NotFoundError("match", id)
	}
	return copyMatch(m), nil
}

func (s *Store) FindMatch(_ context.Context, userID, postingID string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMatchLocked(func(m *model.Match) bool { return m.UserID == userID && m.PostingID == postingID })
	if m == nil {
		return nil, model.NotFoundError("match", userID+"/"+postingID)
	}
	return copyMatch(m), nil
}

func (s *Store) InsertMatch(_ context.Context, m *model.Match) (*model.Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findMatchLocked(func(e *model.Match) bool {
		return e.UserID == m.UserID && e.PostingID == m.PostingID
	}); existing != nil {
		return copyMatch(existing), false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CalculatedAt.IsZero() {
		m.CalculatedAt = s.now()
	}
	if m.SkillGaps == nil {
		m.SkillGaps = []string{}
	}
	s.matches = append(s.matches, copyMatch(m))
	return copyMatch(m), true, nil
}

func (s *Store) SetMatchReview(_ context.Context, id string, status model.MatchStatus, inQueue bool) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findMatchLocked(func(m *model.Match) bool { return m.ID == id })
	if m == nil {
		return nil, model.NotFoundError("match", id)
	}
	m.Status = status
	m.IsInQueue = inQueue
	return copyMatch(m), nil
}

func (s *Store) listMatches(pred func(*model.Match) bool) []*model.Match {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Match, 0)
	for _, m := range s.matches {
		if pred(m) {
			out = append(out, copyMatch(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (s *Store) ListMatches(_ context.Context, userID string, minScore int) ([]*model.Match, error) {
	return s.listMatches(func(m *model.Match) bool {
		return m.UserID == userID && m.Score >= minScore && m.Status != model.MatchRejected
	}), nil
}

func (s *Store) ListQueuedMatches(_ context.Context, userID string) ([]*model.Match, error) {
	return s.listMatches(func(m *model.Match) bool { return m.UserID == userID && m.IsInQueue }), nil
}

func (s *Store) ListPendingMatches(_ context.Context, userID string) ([]*model.Match, error) {
	return s.listMatches(func(m *model.Match) bool { return m.UserID == userID && m.Status == model.MatchPending }), nil
}

func (s *Store) countLocked(userID string, action model.ActionType, from, to time.Time) int {
	n := 0
	for _, ev := range s.throttle {
		if ev.UserID == userID && ev.ActionType == action && !ev.Timestamp.Before(from) && ev.Timestamp.Before(to) {
			n++
		}
	}
	return n
}

func (s *Store) CountThrottleEvents(_ context.Context, userID string, action model.ActionType, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(userID, action, from, to), nil
}

func (s *Store) InsertThrottleEventBelow(_ context.Context, ev *model.ThrottleEvent, ceiling int, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countLocked(ev.UserID, ev.ActionType, from, to) >= ceiling {
		return false, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	cp := *ev
	s.throttle = append(s.throttle, &cp)
	return true, nil
}

func (s *Store) DeleteThrottleEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.throttle {
		if ev.ID == id {
			s.throttle = append(s.throttle[:i], s.throttle[i+1:]...)
			return nil
		}
	}
	return model.NotFoundError("throttle event", id)
}

func (s *Store) appendAuditLocked(entry *model.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
}

func (s *Store) CreateApplication(_ context.Context, app *model.Application, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.applications {
		if a.MatchID == app.MatchID {
			return fmt.Errorf("application for match %s already exists", app.MatchID)
		}
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}
	app.UpdatedAt = app.CreatedAt
	cp := *app
	s.applications[app.ID] = &cp

	if entry != nil {
		entry.ApplicationID = app.ID
		s.appendAuditLocked(entry)
	}
	return nil
}

func (s *Store) GetApplication(_ context.Context, id string) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return nil, model.NotFoundError("application", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetApplicationByMatch(_ context.Context, matchID string) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.applications {
		if a.MatchID == matchID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, model.NotFoundError("application for match", matchID)
}

func (s *Store) TransitionApplication(_ context.Context, id string, from, to model.ApplicationStatus, sentAt *time.Time, entry *model.AuditEntry) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.applications[id]
	if !ok || a.Status != from {
		return nil, fmt.Errorf("application %s: %w", id, store.ErrStaleStatus)
	}
	a.Status = to
	if sentAt != nil {
		t := *sentAt
		a.SentAt = &t
	}
	a.UpdatedAt = s.now()

	if entry != nil {
		entry.ApplicationID = id
		s.appendAuditLocked(entry)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) ListAudit(_ context.Context, applicationID string) ([]*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.AuditEntry, 0)
	for _, e := range s.audit {
		if e.ApplicationID == applicationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
