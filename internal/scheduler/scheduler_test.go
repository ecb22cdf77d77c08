package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/scraper"
)

type fakeIngester struct {
	mu      sync.Mutex
	runs    []string
	fail    map[string]bool
	calls   chan string
	release chan struct{}
}

func (f *fakeIngester) Ingest(_ context.Context, req scraper.Request) (*scraper.RunReport, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req.Platform)
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- req.Platform
	}
	if f.release != nil {
		<-f.release
	}
	if f.fail[req.Platform] {
		return &scraper.RunReport{Platform: req.Platform}, errors.New("browser failed to start")
	}
	return &scraper.RunReport{Platform: req.Platform, Stored: 3}, nil
}

type fakeFinder struct {
	minScores []int
}

func (f *fakeFinder) FindMatchesForUser(_ context.Context, userID string, minScore int) ([]*model.Match, error) {
	f.minScores = append(f.minScores, minScore)
	if userID == "ghost" {
		return nil, model.NotFoundError("profile", userID)
	}
	return []*model.Match{{UserID: userID, Score: 90}}, nil
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	ingester := &fakeIngester{fail: map[string]bool{"linkedin": true}}
	finder := &fakeFinder{}
	core, logs := observer.New(zapcore.InfoLevel)

	s := New(ingester, []scraper.Request{
		{Platform: "linkedin", Keywords: []string{"go"}},
		{Platform: "indeed", Keywords: []string{"go"}},
	}, zap.New(core), WithMatching(finder, []string{"u1", "ghost"}, 85))

	cycle := s.RunOnce(context.Background())

	assert.Equal(t, []string{"linkedin", "indeed"}, ingester.runs)
	assert.Equal(t, 1, cycle.Failed)
	require.Len(t, cycle.Reports, 2)
	assert.Equal(t, map[string]int{"u1": 1}, cycle.Matches)
	assert.Equal(t, []int{85, 85}, finder.minScores)
	assert.Equal(t, 1, logs.FilterMessage("ingestion failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("matching failed").Len())
}

func TestRunOnceStopsWhenCancelled(t *testing.T) {
	ingester := &fakeIngester{}
	s := New(ingester, []scraper.Request{{Platform: "linkedin"}, {Platform: "indeed"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cycle := s.RunOnce(ctx)
	assert.Empty(t, ingester.runs)
	assert.Empty(t, cycle.Reports)
}

func TestStartRunsImmediately(t *testing.T) {
	ingester := &fakeIngester{calls: make(chan string, 4)}
	s := New(ingester, []scraper.Request{{Platform: "hh"}}, nil, WithIntervalHours(24))
	assert.Equal(t, "@every 24h", s.Spec())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case platform := <-ingester.calls:
		assert.Equal(t, "hh", platform)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran after start")
	}
}

func TestCycleSkippedWhileAnotherRuns(t *testing.T) {
	ingester := &fakeIngester{calls: make(chan string), release: make(chan struct{})}
	s := New(ingester, []scraper.Request{{Platform: "hh"}}, nil)
	job := s.cycleJob(context.Background())

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-ingester.calls

	// The first cycle is blocked inside Ingest, so this one returns at once.
	job.Run()
	close(ingester.release)
	<-done

	assert.Equal(t, []string{"hh"}, ingester.runs)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&fakeIngester{}, nil, nil, WithSpec("every tuesday"))
	assert.Error(t, s.Start(context.Background()))
}

func TestDefaults(t *testing.T) {
	s := New(&fakeIngester{}, nil, nil, WithSpec(""), WithIntervalHours(0))
	assert.Equal(t, DefaultSpec, s.Spec())
}
