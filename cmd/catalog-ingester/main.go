package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/game-catalog-ingest/internal/config"
	"github.com/Sternrassler/game-catalog-ingest/pkg/cache"
	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
	"github.com/Sternrassler/game-catalog-ingest/pkg/ingest"
	"github.com/Sternrassler/game-catalog-ingest/pkg/logging"
	"github.com/Sternrassler/game-catalog-ingest/pkg/ratelimit"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
	"github.com/Sternrassler/game-catalog-ingest/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Catalog ingester failed")
	}
}

func run() error {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(logging.FromEnv(cfg.LogLevel, cfg.LogPretty))
	logger := logging.NewLogger(logging.ComponentServer)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis holds the run record
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")

	// Postgres holds the games table
	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create postgres pool: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	writer := storage.NewPostgresWriter(db, logging.NewLogger(logging.ComponentStorage))
	if err := writer.EnsureSchema(ctx); err != nil {
		return err
	}

	catalogCfg := catalog.DefaultConfig(cfg.CatalogClientID, cfg.CatalogAccessToken)
	catalogCfg.BaseURL = cfg.CatalogBaseURL
	catalogClient, err := catalog.New(catalogCfg)
	if err != nil {
		return fmt.Errorf("create catalog client: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(cfg.MaxCallsPerWindow, cfg.RateLimitWindow, logging.NewLogger(logging.ComponentRateLimiter))
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	poolCfg := ingest.DefaultConfig()
	poolCfg.Endpoint = cfg.CatalogEndpoint
	poolCfg.BatchSize = cfg.BatchSize
	poolCfg.ConcurrencyLevel = cfg.ConcurrencyLevel

	store := runstatus.NewStore(cache.NewManager(redisClient))
	pool, err := ingest.NewPool(poolCfg, catalogClient, limiter, store, writer, logging.NewLogger(logging.ComponentIngest))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	orchestrator := ingest.NewOrchestrator(pool, logging.NewLogger(logging.ComponentOrchestrator))

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newServer(orchestrator, map[string]checkFunc{
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"postgres": db.Ping,
		}).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Int("batch_size", cfg.BatchSize).
			Int("concurrency", cfg.ConcurrencyLevel).
			Int("max_calls_per_window", cfg.MaxCallsPerWindow).
			Dur("rate_limit_window", cfg.RateLimitWindow).
			Msg("Starting catalog ingester")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	shutdownIngestion(shutdownCtx, orchestrator)
	return nil
}

// shutdownIngestion cancels the stored run if this process launched it and
// waits for its pool, so no Running record outlives the process. Runs of
// other processes sharing the slot are left alone.
func shutdownIngestion(ctx context.Context, orchestrator *ingest.Orchestrator) {
	logger := logging.NewLogger(logging.ComponentServer)

	record, found, err := orchestrator.Record(ctx)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to read run record on shutdown")
	case found && record.IsRunning() && orchestrator.Owns(record.ID):
		if _, err := orchestrator.Stop(ctx); err != nil {
			logger.Warn().Err(err).Str("run_id", record.ID).Msg("Failed to request cancellation on shutdown")
		}
	case found && record.IsRunning():
		logger.Info().Str("run_id", record.ID).Msg("Leaving run of another process untouched")
	}

	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("Ingestion run still active at shutdown deadline")
	}
}
