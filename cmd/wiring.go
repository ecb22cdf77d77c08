package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai/gemini"
	"github.com/spigell/jobpilot/internal/cache"
	"github.com/spigell/jobpilot/internal/filtering"
	"github.com/spigell/jobpilot/internal/headhunter"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/matching"
	"github.com/spigell/jobpilot/internal/outreach"
	"github.com/spigell/jobpilot/internal/scraper"
	"github.com/spigell/jobpilot/internal/secrets"
	"github.com/spigell/jobpilot/internal/store"
	"github.com/spigell/jobpilot/internal/store/memstore"
	"github.com/spigell/jobpilot/internal/throttle"
)

// env holds what every command shares. Components are built on demand.
type env struct {
	cfg    *Config
	logger *zap.Logger
	store  store.Store
	redis  *cache.Redis

	generator *gemini.Generator
}

func setup(ctx context.Context) *env {
	lg, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		lg.Fatal("getting a config", zap.Error(err))
	}

	e := &env{cfg: config, logger: lg}
	dryRun := viper.GetBool("dry-run")

	e.store, err = e.openStore(ctx, dryRun)
	if err != nil {
		lg.Fatal("opening the store", zap.Error(err))
	}

	if !dryRun && config.Redis != nil && config.Redis.Address != "" {
		r := cache.NewRedis(cache.Options{
			Address:  config.Redis.Address,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := r.Ping(ctx); err != nil {
			lg.Warn("redis is unavailable, continuing without cache and notifications", zap.Error(err))
			_ = r.Close()
		} else {
			e.redis = r
		}
	}

	lg.Debug("environment ready",
		zap.Bool("dry_run", dryRun),
		zap.Bool("cache", e.redis != nil),
		zap.String("version", version),
	)
	return e
}

func (e *env) openStore(ctx context.Context, dryRun bool) (store.Store, error) {
	if dryRun {
		mem := memstore.New()
		if e.cfg.Profile != nil && e.cfg.UserID != "" {
			mem.PutProfile(e.cfg.Profile.toModel(e.cfg.UserID))
		}
		e.logger.Info("dry run, using the in-memory store")
		return mem, nil
	}

	db := e.cfg.Database
	if db == nil {
		db = &DatabaseConfig{}
	}
	url, err := secrets.Load(secrets.Source{
		Name:  "database url",
		File:  db.URLFile,
		Env:   envPrefix + "_DATABASE_URL",
		Value: db.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set database.url, database.url-file or %s_DATABASE_URL, or use --dry-run)", err, envPrefix)
	}

	pg, err := store.Open(ctx, url, logger.Named(e.logger, "store"))
	if err != nil {
		return nil, err
	}
	if db.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing the store", zap.Error(err))
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	_ = e.logger.Sync()
}

func (e *env) userID() string {
	id := strings.TrimSpace(e.cfg.UserID)
	if id == "" {
		e.logger.Fatal("user id is required", zap.String("hint", "pass --user or set user-id in the config"))
	}
	return id
}

func (e *env) gemini(ctx context.Context) (*gemini.Generator, error) {
	if e.generator != nil {
		return e.generator, nil
	}

	cfg := e.cfg.AI
	if cfg == nil || cfg.Gemini == nil {
		cfg = &AIConfig{Gemini: &GeminiConfig{}}
	}
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
		Value: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	g, err := gemini.NewGenerator(ctx, gemini.Config{
		APIKey:         apiKey,
		Model:          cfg.Gemini.Model,
		EmbeddingModel: cfg.Gemini.EmbeddingModel,
		EmbeddingDim:   cfg.Gemini.EmbeddingDim,
		MaxRetries:     cfg.Gemini.MaxRetries,
	}, logger.Named(e.logger, "gemini"))
	if err != nil {
		return nil, err
	}
	e.generator = g
	return g, nil
}

func (e *env) maxLogLength() int {
	if e.cfg.AI != nil && e.cfg.AI.Gemini != nil {
		return e.cfg.AI.Gemini.MaxLogLength
	}
	return 0
}

// matching returns the engine, behind the Redis cache when one is available.
func (e *env) matching(ctx context.Context) (matching.Service, error) {
	g, err := e.gemini(ctx)
	if err != nil {
		return nil, err
	}

	matcher := gemini.NewMatcher(g, e.maxLogLength(), logger.Named(e.logger, "matcher"))
	if p := e.cfg.AI; p != nil && p.Prompt != nil {
		matcher.SetPromptOverrides(gemini.PromptOverrides{
			ExtraCriteria:     p.Prompt.ExtraCriteria,
			DealBreakers:      p.Prompt.DealBreakers,
			CustomKeywords:    p.Prompt.CustomKeywords,
			Tone:              p.Prompt.Tone,
			RegionConstraints: p.Prompt.RegionConstraints,
			UserInstructions:  p.Prompt.UserInstructions,
		})
	}

	engine := matching.NewEngine(e.store, matcher, logger.Named(e.logger, "matching"),
		matching.WithBatchSize(e.cfg.Matching.BatchSize),
	)
	if e.redis == nil {
		return engine, nil
	}
	return matching.NewCached(engine, e.redis, logger.Named(e.logger, "match-cache")), nil
}

func (e *env) headhunter() (*headhunter.Client, error) {
	token, err := secrets.Load(secrets.Source{
		Name: "headhunter token",
		File: e.cfg.Headhunter.TokenFile,
		Env:  "HH_TOKEN",
	})
	if err != nil {
		return nil, err
	}

	hh := headhunter.New(token, logger.Named(e.logger, "headhunter"))
	if e.cfg.Headhunter.UserAgent != "" {
		hh.UserAgent = e.cfg.Headhunter.UserAgent
	}
	return hh, nil
}

func (e *env) scraper(ctx context.Context) *scraper.Scraper {
	sc := e.cfg.Scrape
	log := logger.Named(e.logger, "scraper")

	steps := filtering.Default()
	for _, name := range sc.DisabledFilters {
		filtering.DisableByName(steps, name, "disabled in config")
	}

	opts := []scraper.Option{
		scraper.WithBrowser(scraper.NewChromeFactory(sc.Browser, log)),
		scraper.WithRegistry(scraper.DefaultRegistry()),
		scraper.WithFilters(&sc.Filters, steps),
		scraper.WithConfig(sc.Timing),
	}

	if hh, err := e.headhunter(); err == nil {
		opts = append(opts, scraper.WithAPISource(hh))
	} else {
		e.logger.Debug("hh source disabled", zap.Error(err))
	}

	if g, err := e.gemini(ctx); err == nil {
		opts = append(opts, scraper.WithEmbedder(g))
	} else {
		e.logger.Warn("embeddings disabled", zap.Error(err))
	}

	for _, s := range filtering.Describe(steps) {
		e.logger.Debug("filter", zap.String("name", s.Name), zap.Bool("enabled", s.Enabled), zap.String("reason", s.Reason))
	}

	return scraper.New(e.store, log, opts...)
}

func (e *env) throttle(platform string) *throttle.Manager {
	return throttle.NewManager(e.store, platform, logger.Named(e.logger, "throttle"))
}

func (e *env) outreach(ctx context.Context, channel string) (*outreach.Service, error) {
	matches, err := e.matching(ctx)
	if err != nil {
		return nil, err
	}
	g, err := e.gemini(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Named(e.logger, "outreach")
	composer := gemini.NewComposer(g, e.maxLogLength(), log)
	opts := e.notifier()

	switch channel {
	case outreach.ChannelEmail:
		ec := e.cfg.Outreach
		if ec == nil || ec.Email == nil || ec.Email.From == "" {
			return nil, errors.New("outreach.email.from is required for the email channel")
		}
		sender, err := outreach.NewSESSender(ctx, ec.Email.Region, ec.Email.From)
		if err != nil {
			return nil, err
		}
		opts = append(opts, outreach.WithEmail(sender, outreach.PostingContact{}))
	case outreach.ChannelLinkedIn:
		factory := scraper.NewChromeFactory(e.cfg.Scrape.Browser, log)
		opts = append(opts, outreach.WithPlatformSender(outreach.NewLinkedInSender(factory, log)))
	case outreach.ChannelHeadhunter:
		hh, err := e.headhunter()
		if err != nil {
			return nil, err
		}
		opts = append(opts, outreach.WithHeadhunter(outreach.NewHeadhunterChannel(hh, e.cfg.Headhunter.Resume)))
	}

	return outreach.New(e.store, matches, composer, e.throttle(channel), log, opts...), nil
}

// applications serves status changes and history, which need neither AI nor
// a delivery channel.
func (e *env) applications() *outreach.Service {
	return outreach.New(e.store, nil, nil, nil, logger.Named(e.logger, "outreach"), e.notifier()...)
}

func (e *env) notifier() []outreach.Option {
	if e.redis == nil {
		return nil
	}
	channel := ""
	if e.cfg.Redis != nil {
		channel = e.cfg.Redis.Channel
	}
	return []outreach.Option{outreach.WithNotifier(outreach.NewRedisNotifier(e.redis.Client(), channel))}
}
