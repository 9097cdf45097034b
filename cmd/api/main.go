package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatdock/internal/clock"
	"chatdock/internal/config"
	"chatdock/internal/httpapi"
	"chatdock/internal/metrics"
	"chatdock/internal/ratelimit"
	"chatdock/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("env", cfg.AppEnv).
		Str("backend", cfg.DB.Backend).
		Str("timezone", cfg.Timezone).
		Msg("starting chatdock")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize clock")
	}

	var rdb *redis.Client
	if cfg.DB.Backend == config.BackendRedis || cfg.Rate.PerHour > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	var folders storage.FolderRepository
	var threads storage.ThreadRepository
	switch cfg.DB.Backend {
	case config.BackendSQL:
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer store.Close()
		folders = storage.NewSQLFolderRepo(store, clk)
		threads = storage.NewSQLThreadRepo(store, clk)
	case config.BackendMemory:
		folders = storage.NewMemoryFolderRepo(clk)
		threads = storage.NewMemoryThreadRepo(clk)
	case config.BackendRedis:
		folders = storage.NewRedisFolderRepo(rdb, cfg.Redis.KeyPrefix, clk)
		threads = storage.NewRedisThreadRepo(rdb, cfg.Redis.KeyPrefix, clk)
	default:
		log.Fatal().Str("backend", cfg.DB.Backend).Msg("unsupported backend")
	}

	var limiter *ratelimit.Limiter
	if cfg.Rate.PerHour > 0 {
		limiter = ratelimit.New(rdb, cfg.Rate.PerHour)
	}

	if cfg.AppEnv != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := &httpapi.Handler{
		Folders: folders,
		Threads: threads,
		Logger:  log.Logger,
		Metrics: metrics.Global(),
	}
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		APIPrefix:   cfg.HTTP.APIPrefix,
		HealthPath:  cfg.HTTP.HealthPath,
		MetricsPath: cfg.HTTP.MetricsPath,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Limiter:     limiter,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
