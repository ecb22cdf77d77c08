// Package scheduler runs ingestion and matching cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/scraper"
)

// DefaultSpec fires a cycle every six hours.
const DefaultSpec = "@every 6h"

type Ingester interface {
	Ingest(ctx context.Context, req scraper.Request) (*scraper.RunReport, error)
}

type MatchFinder interface {
	FindMatchesForUser(ctx context.Context, userID string, minScore int) ([]*model.Match, error)
}

// Cycle summarises one run.
type Cycle struct {
	Reports []*scraper.RunReport
	Failed  int
	Matches map[string]int
}

// Scheduler wraps robfig/cron and owns the scrape loop.
type Scheduler struct {
	cron     *cron.Cron
	ingester Ingester
	requests []scraper.Request
	matcher  MatchFinder
	users    []string
	minScore int
	spec     string
	logger   *zap.Logger
	cronLog  cronLogger

	wg sync.WaitGroup
}

type Option func(*Scheduler)

// WithSpec sets the cron spec, e.g. "@every 2h" or "0 */4 * * *".
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithIntervalHours fires every n hours.
func WithIntervalHours(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.spec = fmt.Sprintf("@every %dh", n)
		}
	}
}

// WithMatching scores new postings for users after each ingestion pass.
func WithMatching(m MatchFinder, users []string, minScore int) Option {
	return func(s *Scheduler) {
		s.matcher = m
		s.users = users
		s.minScore = minScore
	}
}

func New(ingester Ingester, requests []scraper.Request, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		ingester: ingester,
		requests: requests,
		minScore: -1,
		spec:     DefaultSpec,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cronLog = cronLogger{logger: logger.Named("cron")}
	s.cron = cron.New(cron.WithLogger(s.cronLog))
	return s
}

// Spec returns the cron spec in use.
func (s *Scheduler) Spec() string { return s.spec }

// Start registers the job, starts cron and runs one cycle right away so
// postings are available without waiting for the first tick. A tick that
// fires while a cycle is still running, including the first one, is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	job := s.cycleJob(ctx)
	if _, err := s.cron.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("cron add %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Int("requests", len(s.requests)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	return nil
}

func (s *Scheduler) cycleJob(ctx context.Context) cron.Job {
	return cron.NewChain(cron.Recover(s.cronLog), cron.SkipIfStillRunning(s.cronLog)).
		Then(cron.FuncJob(func() { s.RunOnce(ctx) }))
}

// Stop stops cron and waits for running cycles to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunOnce ingests every configured request, then matches for every user. A
// failing request or user is logged and the cycle moves on.
func (s *Scheduler) RunOnce(ctx context.Context) *Cycle {
	cycle := &Cycle{Matches: make(map[string]int)}
	s.logger.Info("cycle started")

	for _, req := range s.requests {
		if ctx.Err() != nil {
			s.logger.Info("cycle cancelled")
			return cycle
		}
		report, err := s.ingester.Ingest(ctx, req)
		if report != nil {
			cycle.Reports = append(cycle.Reports, report)
		}
		if err != nil {
			cycle.Failed++
			s.logger.Error("ingestion failed", zap.String("platform", req.Platform), zap.Error(err))
		}
	}

	if s.matcher != nil {
		for _, userID := range s.users {
			if ctx.Err() != nil {
				return cycle
			}
			matches, err := s.matcher.FindMatchesForUser(ctx, userID, s.minScore)
			if err != nil {
				s.logger.Error("matching failed", zap.String("user_id", userID), zap.Error(err))
				continue
			}
			cycle.Matches[userID] = len(matches)
		}
	}

	s.logger.Info("cycle complete", zap.Int("requests", len(s.requests)), zap.Int("failed", cycle.Failed))
	return cycle
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
