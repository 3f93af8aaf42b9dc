package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/api"
	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/config"
	"github.com/yogi2103/zulip/internal/fanout"
	"github.com/yogi2103/zulip/internal/handlers"
	"github.com/yogi2103/zulip/internal/store"
	"github.com/yogi2103/zulip/internal/submessage"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx := context.Background()

	// Initialize database
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer db.Close()

	// Initialize event queues
	var (
		events  fanout.Queue
		limiter *middleware.RateLimiter
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		redisStore.SetQueueLimits(cfg.EventQueueTTL, int64(cfg.EventQueueMax))
		redisStore.SetLogger(logger)
		events = redisStore

		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		logger.Info().Msg("connected to Redis")
	} else {
		events = fanout.NewMemorySink(cfg.EventQueueMax)
		logger.Warn().Msg("REDIS_URL not set, using in-memory event queues without rate limiting")
	}

	// Event fanout
	fanoutCfg := fanout.DefaultConfig()
	fanoutCfg.Workers = cfg.FanoutWorkers
	fanoutCfg.QueueSize = cfg.FanoutQueueSize
	fanoutCfg.MaxAttempts = cfg.FanoutMaxAttempts
	publisher := fanout.NewPublisher(events, logger, fanoutCfg)

	service := submessage.NewService(db, publisher, logger)
	h := handlers.NewHandler(db, events, service, logger)
	auth := middleware.NewAuthMiddleware(db)

	// Create router
	router := api.NewRouter(logger, h, auth, api.Options{
		Limiter:    limiter,
		TrustProxy: cfg.TrustProxyHeaders,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush queued events before the stores close
	if err := publisher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("event fanout did not drain")
	}

	logger.Info().Msg("server stopped")
}
