//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/game-catalog-ingest/internal/testutil"
	"github.com/Sternrassler/game-catalog-ingest/pkg/cache"
	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
	"github.com/Sternrassler/game-catalog-ingest/pkg/ingest"
	"github.com/Sternrassler/game-catalog-ingest/pkg/ratelimit"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
	"github.com/Sternrassler/game-catalog-ingest/pkg/storage"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

type memWriter struct {
	mu    sync.Mutex
	games []storage.Game
}

func (w *memWriter) WriteGames(ctx context.Context, games []storage.Game) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.games = append(w.games, games...)
	return int64(len(games)), nil
}

type stack struct {
	orchestrator *ingest.Orchestrator
	store        *runstatus.Store
	catalog      *testutil.MockCatalog
	writer       *memWriter
}

func newStack(t *testing.T, redisClient *redis.Client, total, batchSize, concurrency, maxCalls int, window time.Duration) *stack {
	t.Helper()

	mock := testutil.NewMockCatalog(total)
	t.Cleanup(mock.Close)

	cfg := catalog.DefaultConfig(testutil.MockClientID, testutil.MockAccessToken)
	cfg.BaseURL = mock.URL()
	client, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	limiter, err := ratelimit.NewLimiter(maxCalls, window, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}

	poolCfg := ingest.DefaultConfig()
	poolCfg.BatchSize = batchSize
	poolCfg.ConcurrencyLevel = concurrency

	store := runstatus.NewStore(cache.NewManager(redisClient))
	writer := &memWriter{}
	pool, err := ingest.NewPool(poolCfg, client, limiter, store, writer, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	return &stack{
		orchestrator: ingest.NewOrchestrator(pool, zerolog.Nop()),
		store:        store,
		catalog:      mock,
		writer:       writer,
	}
}

// TestFullIngestionRun tests the complete flow: count → claim → rate-limited fetch → persist → final status.
func TestFullIngestionRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, 1000, 100, 4, 5, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	runID, err := s.orchestrator.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.orchestrator.Wait()
	elapsed := time.Since(start)

	record, found, err := s.store.TryGet(ctx)
	if err != nil || !found {
		t.Fatalf("TryGet() = (%v, %v)", found, err)
	}
	if record.ID != runID || record.Status != runstatus.StatusCompleted {
		t.Errorf("record = %+v, want %s Completed", record, runID)
	}
	if len(s.writer.games) != 1000 {
		t.Errorf("persisted = %d, want 1000", len(s.writer.games))
	}

	// Ten batches at five calls per 200ms need at least one full window.
	if elapsed < 200*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 200ms (rate limit not applied)", elapsed)
	}

	offsets := s.catalog.Offsets()
	if len(offsets) != 10 {
		t.Errorf("batches = %d, want 10", len(offsets))
	}
}

// TestPersistentRateLimitFailsRun tests that a batch still rate limited after retries fails the run.
func TestPersistentRateLimitFailsRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, 300, 100, 1, 10, time.Second)
	s.catalog.FailAtOffset(100, testutil.NewRateLimitResponse())

	if _, err := s.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.orchestrator.Wait()

	status, _ := s.orchestrator.CheckStatus(context.Background())
	if status != runstatus.StatusError {
		t.Errorf("CheckStatus() = %q, want Error after persistent 429", status)
	}
	if len(s.writer.games) != 0 {
		t.Errorf("persisted = %d, want 0", len(s.writer.games))
	}
}

// TestStopAcrossProcesses tests that a stop written by another process is observed.
func TestStopAcrossProcesses(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, 100000, 10, 2, 1000, time.Second)
	s.catalog.SetDelay(50 * time.Millisecond)
	other := runstatus.NewStore(cache.NewManager(redisClient))
	ctx := context.Background()

	if _, err := s.orchestrator.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if found, err := other.RequestCancellation(ctx); err != nil || !found {
		t.Fatalf("RequestCancellation() = (%v, %v)", found, err)
	}

	done := make(chan struct{})
	go func() {
		s.orchestrator.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not observe cancellation")
	}

	record, _, _ := other.TryGet(ctx)
	if record.Status != runstatus.StatusCancelled || record.EndTime == nil {
		t.Errorf("record = %+v, want Cancelled with EndTime", record)
	}
}
