// Package main is the entrypoint for the casebridge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/casebridge/internal/ai"
	"github.com/kiranshivaraju/casebridge/internal/api"
	"github.com/kiranshivaraju/casebridge/internal/api/handler"
	mw "github.com/kiranshivaraju/casebridge/internal/api/middleware"
	"github.com/kiranshivaraju/casebridge/internal/cache"
	"github.com/kiranshivaraju/casebridge/internal/config"
	"github.com/kiranshivaraju/casebridge/internal/extract"
	"github.com/kiranshivaraju/casebridge/internal/prompt"
	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/internal/submission"
	"github.com/kiranshivaraju/casebridge/internal/worker"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"store_backend", cfg.Store.Backend,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store
	jobs, rdb, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	slog.Info("job store ready", "backend", cfg.Store.Backend)

	// 3. Rate-limit counters share the store's Redis connection when there is one
	limiter, closeCache, err := openCache(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeCache()

	// 4. Analysis pipeline
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	hooks, err := extract.Default(cfg.Extract)
	if err != nil {
		return fmt.Errorf("create extraction hooks: %w", err)
	}
	prompts, err := prompt.New(cfg.AI.SystemPrompt)
	if err != nil {
		return fmt.Errorf("parse system prompt: %w", err)
	}

	w := worker.New(jobs, provider, hooks, prompts, worker.Config{
		AnalysisTimeout: cfg.Worker.AnalysisTimeout,
		LeaseTTL:        cfg.Worker.LeaseTTL,
	})
	pool := worker.NewPool(w, jobs, cfg.Worker.Concurrency)

	// Jobs accepted before a restart are still pending in a durable store.
	if _, err := pool.Recover(ctx); err != nil {
		slog.Error("recovering pending jobs", "error", err)
	}

	// 5. Lease reaper and retention
	reaper := store.NewReaper(jobs, store.ReaperConfig{
		LeaseTTL:     cfg.Worker.LeaseTTL,
		ReapInterval: cfg.Worker.ReapInterval,
		Retention:    cfg.Store.RetentionTTL,
		EvictEvery:   cfg.Store.EvictEvery,
	})
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	// 6. Build router with dependencies
	svc := submission.NewService(jobs, pool, cfg.Submission)

	router := api.NewRouter(api.Dependencies{
		RateLimit:    mw.NewRateLimit(limiter, cfg.Server.RateLimitPerMin),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"store": jobs,
			"cache": limiter,
		}),
		SubmitHandler:     handler.NewSubmitHandler(svc),
		StatusHandler:     handler.NewStatusHandler(jobs),
		StreamHandler:     handler.NewStreamHandler(jobs, 0),
		MediaTypesHandler: handler.NewMediaTypesHandler(svc.MediaTypes()),
	})

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting submissions, then let running
	// analyses record their outcome.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker pool shutdown cut short, unfinished jobs stay pending", "error", err)
	}
	<-reaperDone

	slog.Info("server stopped gracefully")
	return nil
}

// openStore builds the configured job store. The returned Redis client is
// non-nil for the redis backend so other components can share it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *redis.Client, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse redis URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return store.NewRedisStore(rdb), rdb, func() { rdb.Close() }, nil

	case "postgres":
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect database: %w", err)
		}
		return store.NewPostgresStore(pool), nil, pool.Close, nil

	default:
		slog.Warn("using in-memory job store, jobs are lost on restart")
		return store.NewMemoryStore(), nil, func() {}, nil
	}
}

// openCache returns the rate-limit counter store: the shared Redis client,
// a dedicated one when REDIS_URL is set, or process memory.
func openCache(ctx context.Context, cfg *config.Config, rdb *redis.Client) (cache.Cache, func(), error) {
	if rdb != nil {
		return cache.NewRedisCacheFromClient(rdb), func() {}, nil
	}
	if cfg.Redis.URL == "" {
		return cache.NewMemoryCache(), func() {}, nil
	}

	c, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return c, func() { c.Close() }, nil
}
