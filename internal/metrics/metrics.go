package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	PostingsScraped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_postings_scraped_total",
			Help: "Total number of posting cards extracted from sources",
		},
		[]string{"platform"},
	)

	PostingsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_postings_stored_total",
			Help: "Total number of new postings persisted",
		},
		[]string{"platform"},
	)

	PostingsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_postings_skipped_total",
			Help: "Total number of postings not stored, by reason",
		},
		[]string{"platform", "reason"},
	)

	EmbeddingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobpilot_embedding_failures_total",
			Help: "Total number of embedding requests that failed",
		},
	)

	MatchScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobpilot_match_score",
			Help:    "Distribution of persisted match scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_cache_requests_total",
			Help: "Match cache lookups by view and result",
		},
		[]string{"view", "result"},
	)

	OutreachResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_outreach_total",
			Help: "Outreach attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	ThrottleDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_throttle_denied_total",
			Help: "Rate-limited actions refused by the daily quota",
		},
		[]string{"action"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
