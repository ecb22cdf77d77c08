package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/filtering"
	"github.com/spigell/jobpilot/internal/metrics"
)

// Request describes one ingestion run.
type Request struct {
	Platform string   `mapstructure:"platform"`
	Keywords []string `mapstructure:"keywords"`
	Location string   `mapstructure:"location"`
	Limit    int      `mapstructure:"limit"`
}

// RunReport counts what happened to the postings of one run.
type RunReport struct {
	Platform      string
	Scraped       int
	Filtered      int
	Duplicates    int
	Embedded      int
	EmbedFailures int
	Stored        int
	Failed        int
	Cancelled     bool
}

// Ingest runs scrape, filters, embeddings and store for one request. Work
// done before a cancellation is kept and reported.
func (s *Scraper) Ingest(ctx context.Context, req Request) (*RunReport, error) {
	report := &RunReport{Platform: req.Platform}
	log := s.logger.With(zap.String("platform", req.Platform))

	postings, err := s.ScrapeSource(ctx, req.Platform, req.Keywords, req.Location, req.Limit)
	if err != nil {
		return report, err
	}
	report.Scraped = len(postings)

	kept, outcome, err := filtering.Run(ctx, s.filterCfg, filtering.Deps{Dedup: s, Logger: log}, s.filters, postings)
	if err != nil {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report, nil
		}
		return report, fmt.Errorf("filter postings: %w", err)
	}
	for name, step := range outcome {
		if name == "duplicates" {
			report.Duplicates += step.Dropped
			continue
		}
		report.Filtered += step.Dropped
	}
	if report.Filtered > 0 {
		metrics.PostingsSkipped.WithLabelValues(req.Platform, "filtered").Add(float64(report.Filtered))
	}

	report.Embedded, report.EmbedFailures = s.embed(ctx, kept)

	res, err := s.storeAll(ctx, kept)
	report.Stored = res.stored
	report.Duplicates += res.duplicates
	report.Failed = res.failed
	if err != nil || ctx.Err() != nil {
		report.Cancelled = true
	}

	log.Info("ingestion finished",
		zap.Int("scraped", report.Scraped),
		zap.Int("filtered", report.Filtered),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("embedded", report.Embedded),
		zap.Int("embed_failures", report.EmbedFailures),
		zap.Int("stored", report.Stored),
		zap.Int("failed", report.Failed),
		zap.Bool("cancelled", report.Cancelled),
	)

	return report, nil
}
