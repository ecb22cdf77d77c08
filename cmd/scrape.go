package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/scheduler"
	"github.com/spigell/jobpilot/internal/scraper"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape job postings, filter and store them",
	Long: `Scrape runs every request under scrape.requests once, or the single request
given by --platform and --keyword. With --schedule it keeps running and repeats
on the configured cron spec, scoring new postings for matching.users after
each pass.`,
	Run: func(cmd *cobra.Command, _ []string) {
		scrape(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringP("platform", "p", "", "platform to scrape (linkedin, indeed, hh)")
	scrapeCmd.Flags().StringSliceP("keyword", "k", nil, "search keyword, repeatable")
	scrapeCmd.Flags().StringP("location", "l", "", "location hint")
	scrapeCmd.Flags().IntP("limit", "n", 50, "maximum postings per keyword")
	scrapeCmd.Flags().Bool("schedule", false, "keep running on the configured schedule")
	scrapeCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address in schedule mode, e.g. :9090")
}

func scrapeRequests(cmd *cobra.Command, cfg *ScrapeConfig) []scraper.Request {
	platform, _ := cmd.Flags().GetString("platform")
	if platform == "" {
		return cfg.Requests
	}

	keywords, _ := cmd.Flags().GetStringSlice("keyword")
	location, _ := cmd.Flags().GetString("location")
	limit, _ := cmd.Flags().GetInt("limit")
	return []scraper.Request{{Platform: platform, Keywords: keywords, Location: location, Limit: limit}}
}

func scrape(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := setup(ctx)
	defer e.Close()

	requests := scrapeRequests(cmd, e.cfg.Scrape)
	if len(requests) == 0 {
		e.logger.Fatal("nothing to scrape", zap.String("hint", "pass --platform and --keyword or set scrape.requests"))
	}

	s := e.scraper(ctx)

	schedule, _ := cmd.Flags().GetBool("schedule")
	if !schedule {
		for _, req := range requests {
			report, err := s.Ingest(ctx, req)
			if err != nil {
				e.logger.Error("scrape failed", zap.String("platform", req.Platform), zap.Error(err))
				continue
			}
			e.logger.Info("scrape report", zap.Any("report", report))
		}
		return
	}

	opts := []scheduler.Option{
		scheduler.WithIntervalHours(e.cfg.Scrape.IntervalHours),
		scheduler.WithSpec(e.cfg.Scrape.Schedule),
	}
	if users := e.cfg.Matching.Users; len(users) > 0 {
		matches, err := e.matching(ctx)
		if err != nil {
			e.logger.Fatal("building the matching engine", zap.Error(err))
		}
		opts = append(opts, scheduler.WithMatching(matches, users, e.cfg.Matching.MinScore))
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, e.logger); err != nil {
				e.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sched := scheduler.New(s, requests, e.logger.Named("scheduler"), opts...)
	if err := sched.Start(ctx); err != nil {
		e.logger.Fatal("starting the scheduler", zap.Error(err))
	}

	<-ctx.Done()
	e.logger.Info("shutting down")
	sched.Stop()
}
