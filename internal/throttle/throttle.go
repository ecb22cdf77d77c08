// Package throttle enforces per-user daily ceilings on rate-limited outbound actions.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/store"
	"github.com/spigell/jobpilot/internal/utils"
)

const (
	MaxConnectionRequestsPerDay = 20
	MaxMessagesPerDay           = 80

	minDelay       = 2 * time.Minute
	maxDelay       = 8 * time.Minute
	maxExtraSecond = 59
)

// ErrQuotaExceeded is returned when an action would exceed the daily ceiling.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// Quota is the status of one action type for the current UTC day.
type Quota struct {
	Used      int       `json:"used"`
	Max       int       `json:"max"`
	ResetTime time.Time `json:"resetTime"`
}

// Remaining returns how many actions are still allowed today.
func (q Quota) Remaining() int {
	if q.Used >= q.Max {
		return 0
	}
	return q.Max - q.Used
}

// QuotaStatus groups quotas for every action type.
type QuotaStatus struct {
	ConnectionRequests Quota `json:"connectionRequests"`
	Messages           Quota `json:"messages"`
}

// Manager reads and appends to the throttle ledger.
type Manager struct {
	ledger   store.ThrottleLedger
	logger   *zap.Logger
	platform string

	now   func() time.Time
	sleep utils.SleepFunc

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRand fixes the random source used by GetRandomDelay.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rand = r }
}

// WithSleep overrides the cancellable wait used between actions.
func WithSleep(sleep utils.SleepFunc) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// NewManager creates a Manager recording events for platform.
func NewManager(ledger store.ThrottleLedger, platform string, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		ledger:   ledger,
		logger:   logger,
		platform: platform,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    utils.WaitFor,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ceiling returns the daily limit of action.
func Ceiling(action model.ActionType) int {
	switch action {
	case model.ActionConnectionRequest:
		return MaxConnectionRequestsPerDay
	case model.ActionMessageSent:
		return MaxMessagesPerDay
	}
	return 0
}

func (m *Manager) used(ctx context.Context, userID string, action model.ActionType) (int, error) {
	from, to := model.DayWindow(m.now())
	n, err := m.ledger.CountThrottleEvents(ctx, userID, action, from, to)
	if err != nil {
		return 0, fmt.Errorf("count %s for %s: %w", action, userID, err)
	}
	return n, nil
}

func (m *Manager) can(ctx context.Context, userID string, action model.ActionType) (bool, error) {
	n, err := m.used(ctx, userID, action)
	if err != nil {
		return false, err
	}
	return n < Ceiling(action), nil
}

// CanSendConnectionRequest reports whether today's connection-request budget has room.
func (m *Manager) CanSendConnectionRequest(ctx context.Context, userID string) (bool, error) {
	return m.can(ctx, userID, model.ActionConnectionRequest)
}

// CanSendMessage reports whether today's message budget has room.
func (m *Manager) CanSendMessage(ctx context.Context, userID string) (bool, error) {
	return m.can(ctx, userID, model.ActionMessageSent)
}

// RecordConnectionRequest appends a connection-request event. It never
// exceeds the ceiling and returns ErrQuotaExceeded instead.
func (m *Manager) RecordConnectionRequest(ctx context.Context, userID string) error {
	return m.record(ctx, userID, model.ActionConnectionRequest)
}

// RecordMessageSent appends a message event, bounded like RecordConnectionRequest.
func (m *Manager) RecordMessageSent(ctx context.Context, userID string) error {
	return m.record(ctx, userID, model.ActionMessageSent)
}

func (m *Manager) record(ctx context.Context, userID string, action model.ActionType) error {
	ok, err := m.TryAcquire(ctx, userID, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s for %s: %w", action, userID, ErrQuotaExceeded)
	}
	return nil
}

// TryAcquire atomically checks the ceiling and appends an event. It reports
// false without error when today's budget is spent.
func (m *Manager) TryAcquire(ctx context.Context, userID string, action model.ActionType) (bool, error) {
	ev, err := m.acquire(ctx, userID, action)
	return ev != nil, err
}

// Reservation is a unit of quota taken before an action runs.
type Reservation struct {
	ledger store.ThrottleLedger
	event  *model.ThrottleEvent
}

// Release gives the unit back. Call it when the action did not happen.
func (r *Reservation) Release(ctx context.Context) error {
	if err := r.ledger.DeleteThrottleEvent(ctx, r.event.ID); err != nil {
		return fmt.Errorf("release %s for %s: %w", r.event.ActionType, r.event.UserID, err)
	}
	return nil
}

// Reserve takes one unit of quota like TryAcquire and returns a handle to undo
// it. It returns nil without error when today's budget is spent.
func (m *Manager) Reserve(ctx context.Context, userID string, action model.ActionType) (*Reservation, error) {
	ev, err := m.acquire(ctx, userID, action)
	if ev == nil || err != nil {
		return nil, err
	}
	return &Reservation{ledger: m.ledger, event: ev}, nil
}

func (m *Manager) acquire(ctx context.Context, userID string, action model.ActionType) (*model.ThrottleEvent, error) {
	ceiling := Ceiling(action)
	if ceiling == 0 {
		return nil, fmt.Errorf("unknown action type %q", action)
	}

	now := m.now()
	from, to := model.DayWindow(now)
	ev := &model.ThrottleEvent{
		UserID:     userID,
		ActionType: action,
		Platform:   m.platform,
		Timestamp:  now,
	}
	ok, err := m.ledger.InsertThrottleEventBelow(ctx, ev, ceiling, from, to)
	if err != nil {
		return nil, fmt.Errorf("record %s for %s: %w", action, userID, err)
	}

	if !ok {
		metrics.ThrottleDenied.WithLabelValues(string(action)).Inc()
		m.logger.Info("daily quota reached",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Int("max", ceiling),
			zap.Time("reset_time", to),
		)
		return nil, nil
	}
	return ev, nil
}

// ShouldQueueOperation is the inverse of the matching Can... check.
func (m *Manager) ShouldQueueOperation(ctx context.Context, userID string, action model.ActionType) (bool, error) {
	ok, err := m.can(ctx, userID, action)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// GetRandomDelay returns a pause drawn uniformly from 2–8 minutes plus 0–59 seconds.
func (m *Manager) GetRandomDelay() time.Duration {
	m.randMu.Lock()
	defer m.randMu.Unlock()

	base := minDelay + time.Duration(m.rand.Int63n(int64(maxDelay-minDelay)+1))
	extra := time.Duration(m.rand.Intn(maxExtraSecond+1)) * time.Second
	return base + extra
}

// Wait pauses for d or until ctx is done.
func (m *Manager) Wait(ctx context.Context, d time.Duration) error {
	return m.sleep(ctx, d)
}

// GetQuotaStatus reports used/max/reset for both action types.
func (m *Manager) GetQuotaStatus(ctx context.Context, userID string) (*QuotaStatus, error) {
	_, reset := model.DayWindow(m.now())

	connections, err := m.used(ctx, userID, model.ActionConnectionRequest)
	if err != nil {
		return nil, err
	}
	messages, err := m.used(ctx, userID, model.ActionMessageSent)
	if err != nil {
		return nil, err
	}

	return &QuotaStatus{
		ConnectionRequests: Quota{Used: connections, Max: MaxConnectionRequestsPerDay, ResetTime: reset},
		Messages:           Quota{Used: messages, Max: MaxMessagesPerDay, ResetTime: reset},
	}, nil
}
