// Package scraper ingests job postings from browser-driven and API-backed sources.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/filtering"
	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/retry"
	"github.com/spigell/jobpilot/internal/store"
	"github.com/spigell/jobpilot/internal/utils"
)

// APISource is a posting source backed by a structured API instead of a browser.
type APISource interface {
	Name() string
	Fetch(ctx context.Context, keyword, locationHint string, limit int) ([]*model.Posting, error)
}

// Config tunes timeouts and retry schedules.
type Config struct {
	NavigationTimeout time.Duration `mapstructure:"navigation-timeout"`
	ScrollDelay       time.Duration `mapstructure:"scroll-delay"`
	BrowserBaseDelay  time.Duration `mapstructure:"browser-base-delay"`
	StoreBaseDelay    time.Duration `mapstructure:"store-base-delay"`
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = 1500 * time.Millisecond
	}
	if c.BrowserBaseDelay <= 0 {
		c.BrowserBaseDelay = 2 * time.Second
	}
	if c.StoreBaseDelay <= 0 {
		c.StoreBaseDelay = 500 * time.Millisecond
	}
	return c
}

// Scraper collects, filters, embeds and stores postings.
type Scraper struct {
	store      store.Postings
	browsers   BrowserFactory
	registry   *Registry
	apiSources map[string]APISource
	embedder   ai.Embedder
	filters    []filtering.Filter
	filterCfg  *filtering.Config
	cfg        Config
	sleep      utils.SleepFunc
	logger     *zap.Logger
}

type Option func(*Scraper)

func WithBrowser(factory BrowserFactory) Option {
	return func(s *Scraper) { s.browsers = factory }
}

func WithRegistry(r *Registry) Option {
	return func(s *Scraper) { s.registry = r }
}

func WithAPISource(src APISource) Option {
	return func(s *Scraper) { s.apiSources[strings.ToLower(src.Name())] = src }
}

// WithEmbedder enables embeddings. Without it postings are stored without vectors.
func WithEmbedder(e ai.Embedder) Option {
	return func(s *Scraper) { s.embedder = e }
}

func WithFilters(cfg *filtering.Config, steps []filtering.Filter) Option {
	return func(s *Scraper) {
		s.filterCfg = cfg
		s.filters = steps
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Scraper) { s.cfg = cfg }
}

func WithSleep(sleep utils.SleepFunc) Option {
	return func(s *Scraper) { s.sleep = sleep }
}

func New(st store.Postings, logger *zap.Logger, opts ...Option) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		store:      st,
		registry:   DefaultRegistry(),
		apiSources: make(map[string]APISource),
		sleep:      utils.WaitFor,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	if s.filters == nil {
		s.filters = filtering.Default()
	}
	if s.filterCfg == nil {
		s.filterCfg = &filtering.Config{}
	}
	return s
}

func (s *Scraper) browserPolicy() retry.Policy {
	p := retry.Browser(s.cfg.BrowserBaseDelay)
	p.Sleep = s.sleep
	return p
}

func (s *Scraper) storePolicy() retry.Policy {
	p := retry.Store(s.cfg.StoreBaseDelay)
	p.Sleep = s.sleep
	return p
}

// IsDuplicate reports whether a posting with externalID is already stored.
func (s *Scraper) IsDuplicate(ctx context.Context, externalID string) (bool, error) {
	return retry.DoValue(ctx, s.storePolicy(), s.logger, func(ctx context.Context) (bool, error) {
		return s.store.PostingExists(ctx, externalID)
	})
}

// ScrapeSource collects up to limit postings (limit <= 0 means no bound) for
// keywords in order. Only a failure to start the browser is returned as an
// error; on cancellation the postings collected so far are returned.
func (s *Scraper) ScrapeSource(ctx context.Context, platform string, keywords []string, locationHint string, limit int) ([]*model.Posting, error) {
	name := strings.ToLower(strings.TrimSpace(platform))
	log := s.logger.With(zap.String("platform", name))

	if src, ok := s.apiSources[name]; ok {
		return s.scrapeAPI(ctx, src, keywords, locationHint, limit, log), nil
	}

	p, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	if s.browsers == nil {
		return nil, fmt.Errorf("no browser configured for platform %q", platform)
	}

	browser, err := retry.DoValue(ctx, s.browserPolicy(), log, func(ctx context.Context) (Browser, error) {
		return s.browsers(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Warn("closing browser", zap.Error(err))
		}
	}()

	collected := make([]*model.Posting, 0)
	for _, keyword := range keywords {
		if ctx.Err() != nil || reached(collected, limit) {
			break
		}

		postings, err := s.scrapeKeyword(ctx, browser, p, keyword, locationHint, limit-len(collected), log)
		collected = append(collected, postings...)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("keyword skipped", zap.String("keyword", keyword), zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		log.Info("scrape cancelled, returning partial results", zap.Int("collected", len(collected)))
	}
	return collected, nil
}

func reached(collected []*model.Posting, limit int) bool {
	return limit > 0 && len(collected) >= limit
}

func (s *Scraper) scrapeKeyword(ctx context.Context, browser Browser, p Platform, keyword, location string, remaining int, log *zap.Logger) ([]*model.Posting, error) {
	log = log.With(zap.String("keyword", keyword))
	searchURL := p.BuildSearchURL(keyword, location)

	err := retry.Do(ctx, s.browserPolicy(), log, func(ctx context.Context) error {
		if err := browser.Navigate(ctx, searchURL, s.cfg.NavigationTimeout); err != nil {
			return err
		}
		return browser.WaitForSelector(ctx, p.ResultSelector, s.cfg.NavigationTimeout)
	})
	if err != nil {
		return nil, fmt.Errorf("open search results: %w", err)
	}

	for i := 0; i < p.scrolls(); i++ {
		if err := browser.Scroll(ctx); err != nil {
			log.Debug("scroll failed", zap.Int("increment", i+1), zap.Error(err))
			break
		}
		if err := s.sleep(ctx, s.cfg.ScrollDelay); err != nil {
			return nil, err
		}
	}

	cards, err := retry.DoValue(ctx, s.browserPolicy(), log, func(ctx context.Context) ([]Card, error) {
		return browser.ExtractCards(ctx, p.Cards)
	})
	if err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}

	now := time.Now().UTC()
	postings := make([]*model.Posting, 0, len(cards))
	for _, card := range cards {
		if ctx.Err() != nil {
			return postings, ctx.Err()
		}
		if remaining > 0 && len(postings) >= remaining {
			break
		}

		posting, ok := cardToPosting(p, card, now)
		if !ok {
			log.Debug("malformed card skipped", zap.String("url", card.URL), zap.String("title", card.Title))
			metrics.PostingsSkipped.WithLabelValues(p.Name, "malformed").Inc()
			continue
		}
		metrics.PostingsScraped.WithLabelValues(p.Name).Inc()
		postings = append(postings, posting)
	}

	log.Info("keyword scraped", zap.Int("cards", len(cards)), zap.Int("postings", len(postings)))
	return postings, nil
}

func cardToPosting(p Platform, card Card, scrapedAt time.Time) (*model.Posting, bool) {
	id, ok := p.ParseJobID(card.URL)
	title := strings.TrimSpace(card.Title)
	if !ok || title == "" {
		return nil, false
	}
	return &model.Posting{
		ExternalID: model.ExternalID(p.Name, id),
		Title:      title,
		Company:    strings.TrimSpace(card.Company),
		Location:   strings.TrimSpace(card.Location),
		Platform:   p.Name,
		SourceURL:  card.URL,
		ScrapedAt:  scrapedAt,
		IsActive:   true,
	}, true
}

func (s *Scraper) scrapeAPI(ctx context.Context, src APISource, keywords []string, location string, limit int, log *zap.Logger) []*model.Posting {
	collected := make([]*model.Posting, 0)
	for _, keyword := range keywords {
		if ctx.Err() != nil || reached(collected, limit) {
			break
		}
		remaining := 0
		if limit > 0 {
			remaining = limit - len(collected)
		}

		postings, err := src.Fetch(ctx, keyword, location, remaining)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("keyword skipped", zap.String("keyword", keyword), zap.Error(err))
			continue
		}

		metrics.PostingsScraped.WithLabelValues(src.Name()).Add(float64(len(postings)))
		collected = append(collected, postings...)
	}
	if limit > 0 && len(collected) > limit {
		collected = collected[:limit]
	}
	return collected
}

type storeResult struct {
	stored     int
	duplicates int
	failed     int
}

// StorePostings writes postings one at a time. Duplicates are skipped
// silently and a posting whose write keeps failing is skipped. On
// cancellation the count so far is returned with the context error.
func (s *Scraper) StorePostings(ctx context.Context, postings []*model.Posting) (int, error) {
	res, err := s.storeAll(ctx, postings)
	return res.stored, err
}

func (s *Scraper) storeAll(ctx context.Context, postings []*model.Posting) (storeResult, error) {
	var res storeResult
	for _, p := range postings {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		log := s.logger.With(zap.String("external_id", p.ExternalID))

		dup, err := s.IsDuplicate(ctx, p.ExternalID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("duplicate check failed, skipping posting", zap.Error(err))
			metrics.PostingsSkipped.WithLabelValues(p.Platform, "store_error").Inc()
			res.failed++
			continue
		}
		if dup {
			metrics.PostingsSkipped.WithLabelValues(p.Platform, "duplicate").Inc()
			res.duplicates++
			continue
		}

		err = retry.Do(ctx, s.storePolicy(), log, func(ctx context.Context) error {
			return s.store.InsertPosting(ctx, p)
		})
		switch {
		case err == nil:
			metrics.PostingsStored.WithLabelValues(p.Platform).Inc()
			res.stored++
		case errors.Is(err, store.ErrDuplicate):
			metrics.PostingsSkipped.WithLabelValues(p.Platform, "duplicate").Inc()
			res.duplicates++
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			log.Warn("storing posting failed, skipping", zap.Error(err))
			metrics.PostingsSkipped.WithLabelValues(p.Platform, "store_error").Inc()
			res.failed++
		}
	}
	return res, nil
}

// embed attaches vectors where possible. Failures leave the posting without
// an embedding.
func (s *Scraper) embed(ctx context.Context, postings []*model.Posting) (embedded, failed int) {
	if s.embedder == nil {
		return 0, 0
	}
	for _, p := range postings {
		if ctx.Err() != nil {
			return embedded, failed
		}
		vec, err := s.embedder.Embed(ctx, p.EmbeddingText())
		if err != nil {
			if ctx.Err() != nil {
				return embedded, failed
			}
			s.logger.Warn("embedding failed, storing posting without it",
				zap.String("external_id", p.ExternalID), zap.Error(err))
			metrics.EmbeddingFailures.Inc()
			failed++
			continue
		}
		p.Embedding = vec
		embedded++
	}
	return embedded, failed
}
