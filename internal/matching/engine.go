// Package matching scores postings for candidates and manages the review queue.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/store"
)

const (
	// DefaultBatchSize bounds the postings scanned by one FindMatchesForUser call.
	DefaultBatchSize = 50
	// DefaultMinScore is used when a negative minimum score is requested.
	DefaultMinScore = model.QueueAdmissionScore
)

// Service is the matching capability. Cached decorates it.
type Service interface {
	// CalculateMatch returns the existing match for the pair unchanged or
	// computes and stores a new one.
	CalculateMatch(ctx context.Context, userID, postingID string) (*model.Match, error)
	// FindMatchesForUser scores a batch of unmatched postings and returns
	// the new matches scoring at least minScore.
	FindMatchesForUser(ctx context.Context, userID string, minScore int) ([]*model.Match, error)
	ApproveMatch(ctx context.Context, matchID, userID string) (*model.Match, error)
	RejectMatch(ctx context.Context, matchID, userID string) (*model.Match, error)
	GetQueuedMatches(ctx context.Context, userID string) ([]*model.Match, error)
	GetPendingMatches(ctx context.Context, userID string) ([]*model.Match, error)
	// ListMatches returns every match of the user scoring at least minScore,
	// best first.
	ListMatches(ctx context.Context, userID string, minScore int) ([]*model.Match, error)
}

// Store is the slice of persistence the engine needs.
type Store interface {
	store.Postings
	store.Profiles
	store.Matches
}

// Engine computes matches with an AI matcher and persists them.
type Engine struct {
	store     Store
	matcher   ai.Matcher
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

var _ Service = (*Engine)(nil)

type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st Store, matcher ai.Matcher, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		matcher:   matcher,
		logger:    log,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) CalculateMatch(ctx context.Context, userID, postingID string) (*model.Match, error) {
	existing, err := e.store.FindMatch(ctx, userID, postingID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("find match: %w", err)
	}

	profile, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	posting, err := e.store.GetPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}

	return e.calculate(ctx, profile, posting)
}

func (e *Engine) calculate(ctx context.Context, profile *model.Profile, posting *model.Posting) (*model.Match, error) {
	log := logger.WithFields(e.logger, logger.MatchFields(profile.UserID, posting.ID)...)

	assessment, err := e.matcher.Assess(ctx, profile, posting)
	if err != nil {
		return nil, fmt.Errorf("assess posting %s: %w", posting.ID, err)
	}

	score := clampScore(assessment.Score)
	if score != assessment.Score {
		log.Warn("match score out of range, clamped",
			zap.Int("raw_score", assessment.Score),
			zap.Int("score", score),
		)
	}

	gaps := assessment.SkillGaps
	if gaps == nil {
		gaps = []string{}
	}

	m := &model.Match{
		UserID:       profile.UserID,
		PostingID:    posting.ID,
		Score:        score,
		Reasoning:    assessment.Reasoning,
		SkillGaps:    gaps,
		Status:       model.MatchPending,
		IsInQueue:    score >= model.QueueAdmissionScore,
		CalculatedAt: e.now(),
	}

	stored, created, err := e.store.InsertMatch(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("store match: %w", err)
	}
	if !created {
		log.Debug("match already existed, keeping stored record")
		return stored, nil
	}

	metrics.MatchScores.Observe(float64(stored.Score))
	log.Info("match calculated",
		zap.String(logger.FieldMatchID, stored.ID),
		zap.Int("score", stored.Score),
		zap.Bool("in_queue", stored.IsInQueue),
	)
	return stored, nil
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// FindMatchesForUser scans at most one batch of unmatched active postings in
// creation order. A posting that fails to score is logged and skipped. On
// cancellation the matches computed so far are returned.
func (e *Engine) FindMatchesForUser(ctx context.Context, userID string, minScore int) ([]*model.Match, error) {
	if minScore < 0 {
		minScore = DefaultMinScore
	}

	profile, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	postings, err := e.store.UnmatchedPostings(ctx, userID, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list unmatched postings: %w", err)
	}

	log := e.logger.With(zap.String(logger.FieldUserID, userID))
	log.Debug("scoring postings", zap.Int("postings", len(postings)), zap.Int("min_score", minScore))

	results := make([]*model.Match, 0)
	failed := 0
	for _, posting := range postings {
		if ctx.Err() != nil {
			log.Info("matching cancelled, returning partial results", zap.Int("matches", len(results)))
			return results, nil
		}

		m, err := e.calculate(ctx, profile, posting)
		if err != nil {
			if ctx.Err() != nil {
				return results, nil
			}
			failed++
			log.Warn("scoring posting failed, skipping",
				zap.String(logger.FieldPostingID, posting.ID),
				zap.Error(err),
			)
			continue
		}
		if m.Score >= minScore {
			results = append(results, m)
		}
	}

	log.Info("matching finished",
		zap.Int("scanned", len(postings)),
		zap.Int("qualifying", len(results)),
		zap.Int("failed", failed),
	)
	return results, nil
}

func (e *Engine) ApproveMatch(ctx context.Context, matchID, userID string) (*model.Match, error) {
	return e.review(ctx, matchID, userID, model.MatchApproved, true)
}

func (e *Engine) RejectMatch(ctx context.Context, matchID, userID string) (*model.Match, error) {
	return e.review(ctx, matchID, userID, model.MatchRejected, false)
}

// review applies a manual decision, which overrides queue admission.
func (e *Engine) review(ctx context.Context, matchID, userID string, status model.MatchStatus, inQueue bool) (*model.Match, error) {
	m, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, fmt.Errorf("match %s: %w", matchID, model.ErrUnauthorized)
	}

	updated, err := e.store.SetMatchReview(ctx, matchID, status, inQueue)
	if err != nil {
		return nil, fmt.Errorf("update match %s: %w", matchID, err)
	}

	e.logger.Info("match reviewed",
		zap.String(logger.FieldMatchID, matchID),
		zap.String(logger.FieldUserID, userID),
		zap.String("status", string(status)),
	)
	return updated, nil
}

func (e *Engine) GetQueuedMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	return e.store.ListQueuedMatches(ctx, userID)
}

func (e *Engine) GetPendingMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	return e.store.ListPendingMatches(ctx, userID)
}

// ListMatches treats a negative minScore as 0.
func (e *Engine) ListMatches(ctx context.Context, userID string, minScore int) ([]*model.Match, error) {
	if minScore < 0 {
		minScore = 0
	}
	return e.store.ListMatches(ctx, userID, minScore)
}
