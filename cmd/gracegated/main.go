package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haukened/gracegate/internal/access/common/clock"
	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/config"
	"github.com/haukened/gracegate/internal/access/gateways/enforcer"
	"github.com/haukened/gracegate/internal/access/gateways/httpapi"
	"github.com/haukened/gracegate/internal/access/infra/metrics"
	"github.com/haukened/gracegate/internal/access/repos/ledger"
	"github.com/haukened/gracegate/internal/access/repos/matcher"
	"github.com/haukened/gracegate/internal/access/repos/rules"
	"github.com/haukened/gracegate/internal/access/repos/rules/bloom"
	"github.com/haukened/gracegate/internal/access/repos/rules/lru"
	"github.com/haukened/gracegate/internal/access/repos/seed"
	"github.com/haukened/gracegate/internal/access/repos/state"
	"github.com/haukened/gracegate/internal/access/repos/state/bolt"
	"github.com/haukened/gracegate/internal/access/repos/state/memory"
	"github.com/haukened/gracegate/internal/access/repos/state/redis"
	"github.com/haukened/gracegate/internal/access/services/authority"
	"github.com/haukened/gracegate/internal/access/services/decision"
)

const (
	version = "0.1.0-dev"
	appName = "gracegated"

	defaultShutdownTimeout = 10 * time.Second
	defaultStoreTimeout    = 10 * time.Second
)

// Application holds all the components of the access controller.
type Application struct {
	config    *config.AppConfig
	repo      *state.Repository
	rules     *rules.Store
	authority *authority.Authority
	server    *httpapi.Server
	seeder    *seed.Seeder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":      version,
		"env":          cfg.Env,
		"log_level":    cfg.Log.Level,
		"addr":         cfg.HTTP.Addr,
		"store":        cfg.Store.Backend,
		"hourly_quota": cfg.Grace.HourlyQuota,
		"seed_file":    cfg.Rules.SeedFile,
	}, "Starting "+appName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}
	log.Info(nil, appName+" stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	clk := &clock.RealClock{}
	logger := log.GetLogger()

	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, fmt.Errorf("invalid grace location: %w", err)
	}

	kv, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	openCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	repo, err := state.Open(openCtx, kv, cfg.Store.Key, logger)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	ruleStore, patterns, err := buildRules(cfg, repo, clk, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	grants := ledger.New(repo, clk, loc, logger)

	m := metrics.New()
	if err := m.WatchState(metrics.Sources{Rules: ruleStore, Patterns: patterns, Grants: grants}); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to register state metrics: %w", err)
	}

	hub := enforcer.NewHub(enforcer.Options{Logger: logger, Observer: m})
	auth := authority.New(authority.Options{
		Evaluator:     decision.New(decision.Options{Rules: ruleStore, Grants: grants, Logger: logger}),
		Rules:         ruleStore,
		Grants:        grants,
		Enforcer:      hub,
		Recorder:      m,
		Logger:        logger,
		HourlyQuota:   cfg.Grace.HourlyQuota,
		MinDuration:   cfg.Grace.MinDuration,
		MaxDuration:   cfg.Grace.MaxDuration,
		SweepInterval: cfg.Grace.SweepInterval,
		DedupeWindow:  cfg.Navigation.DedupeWindow,
		DedupeSize:    cfg.Navigation.DedupeSize,
		DeliveryDelay: cfg.Navigation.DeliveryDelay,
		RetryDelay:    cfg.Navigation.RetryDelay,
	})
	hub.Bind(auth)

	server := httpapi.New(cfg.HTTP.Addr, httpapi.Deps{
		Authority: auth,
		Rules:     ruleStore,
		Grants:    grants,
		Hub:       hub,
		Metrics:   m,
		Logger:    logger,
		StartTime: clk.Now(),
	}, httpapi.Limits{PerMinute: cfg.RateLimit.PerMinute, Burst: cfg.RateLimit.Burst})

	app := &Application{
		config:    cfg,
		repo:      repo,
		rules:     ruleStore,
		authority: auth,
		server:    server,
	}
	if cfg.Rules.SeedFile != "" {
		app.seeder = seed.NewSeeder(cfg.Rules.SeedFile, ruleStore, 0, logger)
	}
	return app, nil
}

// buildStore opens the configured key-value backend.
func buildStore(ctx context.Context, cfg *config.AppConfig, logger log.Logger) (state.KV, error) {
	switch cfg.Store.Backend {
	case "bolt":
		log.Info(map[string]any{"path": cfg.Store.Path}, "Using bbolt state store")
		return bolt.New(cfg.Store.Path)
	case "redis":
		log.Info(map[string]any{"addr": cfg.Store.RedisAddr, "db": cfg.Store.RedisDB}, "Using redis state store")
		return redis.New(ctx, redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB}, logger)
	case "memory":
		log.Warn(nil, "Using in-memory state store; rules and grants are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildRules creates the matcher, the decision cache and the rule store.
func buildRules(cfg *config.AppConfig, repo *state.Repository, clk clock.Clock, logger log.Logger) (*rules.Store, *matcher.Matcher, error) {
	m, err := matcher.New(cfg.Matcher.PatternCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	cache, err := lru.New(cfg.Matcher.DecisionCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	store := rules.New(repo, m, cache, bloom.NewFactory(), cfg.Matcher.BloomFPRate, clk, logger)
	log.Info(map[string]any{
		"rules":          len(store.List()),
		"pattern_cache":  cfg.Matcher.PatternCacheSize,
		"decision_cache": cfg.Matcher.DecisionCacheSize,
	}, "Rule store initialized")
	return store, m, nil
}

// Run serves until ctx is cancelled, then shuts everything down.
func (app *Application) Run(ctx context.Context) error {
	defer func() {
		if err := app.repo.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error closing state store")
		}
	}()

	if app.seeder != nil {
		if _, err := app.seeder.Sync(ctx); err != nil {
			return fmt.Errorf("failed to seed rules: %w", err)
		}
		if app.config.Rules.Watch {
			if err := app.seeder.Watch(ctx); err != nil {
				return err
			}
			defer app.seeder.Stop()
		}
	}

	ln, err := net.Listen("tcp", app.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.HTTP.Addr, err)
	}

	app.authority.Start(ctx)
	defer app.authority.Stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- app.server.Serve(ln) }()
	log.Info(map[string]any{"address": ln.Addr().String()}, "Access controller started")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return errors.New("http server exited unexpectedly")
	}

	log.Info(nil, "Shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := app.server.Stop(shutdownCtx); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during HTTP shutdown")
		return fmt.Errorf("shutdown: %w", err)
	}
	<-serveErr
	log.Info(nil, "Graceful shutdown completed")
	return nil
}
