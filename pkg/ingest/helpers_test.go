package ingest

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/game-catalog-ingest/pkg/cache"
	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
	"github.com/Sternrassler/game-catalog-ingest/pkg/storage"
)

var offsetPattern = regexp.MustCompile(`offset (\d+);`)

// fakeFetcher serves ids 1..available in pages addressed by the query offset.
type fakeFetcher struct {
	available int
	batchSize int
	count     int
	countErr  error

	mu        sync.Mutex
	offsets   []int
	queries   []string
	failAt    map[int]error
	countRuns atomic.Int32
	onFetch   func(offset int)
}

func newFakeFetcher(available, batchSize int) *fakeFetcher {
	return &fakeFetcher{
		available: available,
		batchSize: batchSize,
		count:     available,
		failAt:    map[int]error{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, endpoint, query string) ([]catalog.Record, error) {
	offset := 0
	if m := offsetPattern.FindStringSubmatch(query); m != nil {
		offset, _ = strconv.Atoi(m[1])
	}

	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.queries = append(f.queries, query)
	err := f.failAt[offset]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(offset)
	}
	if err != nil {
		return nil, err
	}

	var records []catalog.Record
	for id := offset + 1; id <= offset+f.batchSize && id <= f.available; id++ {
		records = append(records, catalog.Record{ID: int64(id)})
	}
	return records, nil
}

func (f *fakeFetcher) Count(ctx context.Context, query string) (int, error) {
	f.countRuns.Add(1)
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

func (f *fakeFetcher) Offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.offsets...)
	sort.Ints(out)
	return out
}

type nopLimiter struct {
	calls atomic.Int32
}

func (l *nopLimiter) Wait(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type fakeWriter struct {
	mu    sync.Mutex
	calls int
	games []storage.Game
	err   error
}

func (w *fakeWriter) WriteGames(ctx context.Context, games []storage.Game) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return 0, w.err
	}
	w.games = append(w.games, games...)
	return int64(len(games)), nil
}

func (w *fakeWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.games)
}

// countingStore wraps a real store and counts mutating calls.
type countingStore struct {
	*runstatus.Store
	writes atomic.Int32
	claims atomic.Int32
}

func (s *countingStore) Write(ctx context.Context, record runstatus.Record) error {
	s.writes.Add(1)
	return s.Store.Write(ctx, record)
}

func (s *countingStore) Claim(ctx context.Context, record runstatus.Record) (bool, error) {
	s.claims.Add(1)
	return s.Store.Claim(ctx, record)
}

func setupStore(t *testing.T) *countingStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &countingStore{Store: runstatus.NewStore(cache.NewManager(client))}
}

func testConfig(batchSize, concurrency int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = batchSize
	cfg.ConcurrencyLevel = concurrency
	return cfg
}

func newTestPool(t *testing.T, cfg Config, fetcher Fetcher, store StatusStore, writer GameWriter) *Pool {
	t.Helper()

	pool, err := NewPool(cfg, fetcher, &nopLimiter{}, store, writer, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return pool
}

// startRecord writes a Running record the way Orchestrator.Start does.
func startRecord(t *testing.T, store StatusStore, id string) runstatus.Record {
	t.Helper()

	record := runstatus.NewRecord(id, fixedTime)
	claimed, err := store.Claim(context.Background(), record)
	if err != nil || !claimed {
		t.Fatalf("Claim() = (%v, %v), want (true, nil)", claimed, err)
	}
	return record
}

var errFetch = errors.New("upstream unavailable")
