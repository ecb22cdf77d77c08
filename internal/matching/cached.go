package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/cache"
	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/model"
)

const (
	MatchTTL   = 24 * time.Hour
	MatchesTTL = 30 * time.Minute
	QueueTTL   = 5 * time.Minute
)

// keyPart escapes the separator so an id containing ':' cannot reach into
// another user's key space.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A").Replace

func MatchKey(userID, postingID string) string {
	return fmt.Sprintf("match:%s:%s", keyPart(userID), keyPart(postingID))
}

func MatchesKey(userID string, minScore int) string {
	return fmt.Sprintf("matches:%s:%d", keyPart(userID), minScore)
}

func QueueKey(userID string) string {
	return "queue:" + keyPart(userID)
}

func matchPrefix(userID string) string   { return fmt.Sprintf("match:%s:", keyPart(userID)) }
func matchesPrefix(userID string) string { return fmt.Sprintf("matches:%s:", keyPart(userID)) }

// Cached puts a cache in front of a Service. Cache failures are logged and
// the call falls through to the wrapped service.
type Cached struct {
	next   Service
	cache  cache.Cache
	logger *zap.Logger
}

var _ Service = (*Cached)(nil)

func NewCached(next Service, c cache.Cache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: c, logger: logger}
}

func (c *Cached) get(ctx context.Context, view, key string, dst any) bool {
	ok, err := c.cache.Get(ctx, key, dst)
	switch {
	case err != nil:
		metrics.CacheRequests.WithLabelValues(view, "error").Inc()
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	case ok:
		metrics.CacheRequests.WithLabelValues(view, "hit").Inc()
		return true
	default:
		metrics.CacheRequests.WithLabelValues(view, "miss").Inc()
		return false
	}
}

func (c *Cached) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := c.cache.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cached) remove(ctx context.Context, keys ...string) {
	if err := c.cache.Remove(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (c *Cached) removePrefix(ctx context.Context, prefix string) {
	if err := c.cache.RemoveByPrefix(ctx, prefix); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func (c *Cached) CalculateMatch(ctx context.Context, userID, postingID string) (*model.Match, error) {
	key := MatchKey(userID, postingID)

	var cached model.Match
	if c.get(ctx, "match", key, &cached) {
		return &cached, nil
	}

	m, err := c.next.CalculateMatch(ctx, userID, postingID)
	if err != nil {
		return nil, err
	}

	c.set(ctx, key, m, MatchTTL)
	c.removePrefix(ctx, matchesPrefix(userID))
	if m.IsInQueue {
		c.remove(ctx, QueueKey(userID))
	}
	return m, nil
}

func (c *Cached) FindMatchesForUser(ctx context.Context, userID string, minScore int) ([]*model.Match, error) {
	if minScore < 0 {
		minScore = DefaultMinScore
	}
	key := MatchesKey(userID, minScore)

	var cached []*model.Match
	if c.get(ctx, "matches", key, &cached) {
		return cached, nil
	}

	matches, err := c.next.FindMatchesForUser(ctx, userID, minScore)
	if err != nil {
		return nil, err
	}

	// New matches change every list view and possibly the queue.
	c.removePrefix(ctx, matchesPrefix(userID))
	c.remove(ctx, QueueKey(userID))
	for _, m := range matches {
		c.set(ctx, MatchKey(userID, m.PostingID), m, MatchTTL)
	}
	if ctx.Err() == nil {
		c.set(ctx, key, matches, MatchesTTL)
	}
	return matches, nil
}

func (c *Cached) ApproveMatch(ctx context.Context, matchID, userID string) (*model.Match, error) {
	m, err := c.next.ApproveMatch(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	c.invalidateReview(ctx, m)
	return m, nil
}

func (c *Cached) RejectMatch(ctx context.Context, matchID, userID string) (*model.Match, error) {
	m, err := c.next.RejectMatch(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	c.invalidateReview(ctx, m)
	return m, nil
}

// invalidateReview drops every view a status change affects.
func (c *Cached) invalidateReview(ctx context.Context, m *model.Match) {
	c.remove(ctx, MatchKey(m.UserID, m.PostingID), QueueKey(m.UserID))
	c.removePrefix(ctx, matchesPrefix(m.UserID))
}

func (c *Cached) GetQueuedMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	key := QueueKey(userID)

	var cached []*model.Match
	if c.get(ctx, "queue", key, &cached) {
		return cached, nil
	}

	matches, err := c.next.GetQueuedMatches(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, matches, QueueTTL)
	return matches, nil
}

func (c *Cached) GetPendingMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	return c.next.GetPendingMatches(ctx, userID)
}

func (c *Cached) ListMatches(ctx context.Context, userID string, minScore int) ([]*model.Match, error) {
	return c.next.ListMatches(ctx, userID, minScore)
}

// InvalidateUser purges every cached view of userID, for example after a
// profile change.
func (c *Cached) InvalidateUser(ctx context.Context, userID string) {
	c.remove(ctx, QueueKey(userID))
	c.removePrefix(ctx, matchesPrefix(userID))
	c.removePrefix(ctx, matchPrefix(userID))
	c.logger.Debug("user cache invalidated", zap.String("user_id", userID))
}
