package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
)

var fixedTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNewPool_Validation(t *testing.T) {
	fetcher := newFakeFetcher(0, 1)
	store := setupStore(t)
	writer := &fakeWriter{}

	tests := []struct {
		name    string
		cfg     Config
		fetcher Fetcher
		wantErr bool
	}{
		{name: "valid", cfg: testConfig(10, 2), fetcher: fetcher},
		{name: "zero batch", cfg: testConfig(0, 2), fetcher: fetcher, wantErr: true},
		{name: "zero concurrency", cfg: testConfig(10, 0), fetcher: fetcher, wantErr: true},
		{name: "missing fetcher", cfg: testConfig(10, 2), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.cfg, tt.fetcher, &nopLimiter{}, store, writer, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPool() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewPool_Defaults(t *testing.T) {
	cfg := Config{BatchSize: 10, ConcurrencyLevel: 1}
	pool := newTestPool(t, cfg, newFakeFetcher(0, 10), setupStore(t), &fakeWriter{})

	if pool.config.CancelCheckEvery != 2 {
		t.Errorf("CancelCheckEvery = %d, want 2", pool.config.CancelCheckEvery)
	}
	if pool.config.Endpoint != "games" {
		t.Errorf("Endpoint = %q, want games", pool.config.Endpoint)
	}
	if pool.config.CountQuery != DefaultCountQuery {
		t.Errorf("CountQuery = %q", pool.config.CountQuery)
	}
}

func TestPool_BatchQuery(t *testing.T) {
	cfg := testConfig(500, 1)
	cfg.Fields = []string{"id", "name"}
	pool := newTestPool(t, cfg, newFakeFetcher(0, 500), setupStore(t), &fakeWriter{})

	want := "fields id,name;sort id asc;offset 1000;limit 500;"
	if got := pool.batchQuery(1000); got != want {
		t.Errorf("batchQuery() = %q, want %q", got, want)
	}
}

func TestPool_ExactBatchesForTarget(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(1500, 500)
	writer := &fakeWriter{}
	pool := newTestPool(t, testConfig(500, 3), fetcher, store, writer)
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, 1500)

	if result.Status != runstatus.StatusCompleted {
		t.Fatalf("Status = %q, want Completed (err %v)", result.Status, result.Err)
	}
	offsets := fetcher.Offsets()
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 500 || offsets[2] != 1000 {
		t.Errorf("offsets = %v, want [0 500 1000]", offsets)
	}
	if result.Fetched != 1500 || result.Batches != 3 {
		t.Errorf("Fetched = %d, Batches = %d, want 1500 and 3", result.Fetched, result.Batches)
	}
	if writer.Written() != 1500 || result.Persisted != 1500 {
		t.Errorf("persisted = %d (result %d), want 1500", writer.Written(), result.Persisted)
	}

	stored, found, err := store.TryGet(context.Background())
	if err != nil || !found {
		t.Fatalf("TryGet() = (%v, %v)", found, err)
	}
	if stored.Status != runstatus.StatusCompleted || stored.EndTime == nil {
		t.Errorf("stored = %+v, want Completed with EndTime", stored)
	}
	if p := pool.Progress(); p.Percent != 100 || p.RunID != "run-1" {
		t.Errorf("Progress() = %+v, want 100%% for run-1", p)
	}
}

func TestPool_OffsetsNeverOverlap(t *testing.T) {
	const (
		target = 10000
		batch  = 100
	)

	store := setupStore(t)
	fetcher := newFakeFetcher(target, batch)
	pool := newTestPool(t, testConfig(batch, 8), fetcher, store, &fakeWriter{})
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, target)

	if result.Status != runstatus.StatusCompleted {
		t.Fatalf("Status = %q, want Completed", result.Status)
	}
	offsets := fetcher.Offsets()
	if len(offsets) != target/batch {
		t.Fatalf("fetches = %d, want %d", len(offsets), target/batch)
	}
	for i, offset := range offsets {
		if offset != i*batch {
			t.Fatalf("offsets[%d] = %d, want %d (duplicate or gap)", i, offset, i*batch)
		}
	}
	if result.Fetched != target {
		t.Errorf("Fetched = %d, want %d", result.Fetched, target)
	}
}

func TestPool_TotalFetchedMonotonic(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(5000, 50)
	pool := newTestPool(t, testConfig(50, 6), fetcher, store, &fakeWriter{})
	record := startRecord(t, store, "run-1")

	var (
		mu       sync.Mutex
		observed []int64
	)
	fetcher.onFetch = func(int) {
		mu.Lock()
		observed = append(observed, pool.Progress().Fetched)
		mu.Unlock()
	}

	result := pool.Run(context.Background(), record, 5000)

	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Fatalf("fetched went from %d to %d", observed[i-1], observed[i])
		}
	}
	if result.Fetched > result.Batches*50 {
		t.Errorf("Fetched = %d exceeds %d batches of 50", result.Fetched, result.Batches)
	}
}

func TestPool_EmptyBatchEndsWorkerCleanly(t *testing.T) {
	store := setupStore(t)
	// The catalog shrank to 700 records after it was counted.
	fetcher := newFakeFetcher(700, 500)
	writer := &fakeWriter{}
	pool := newTestPool(t, testConfig(500, 3), fetcher, store, writer)
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, 1500)

	if result.Status != runstatus.StatusCompleted {
		t.Fatalf("Status = %q, want Completed (err %v)", result.Status, result.Err)
	}
	if result.Fetched != 700 {
		t.Errorf("Fetched = %d, want 700", result.Fetched)
	}
	if writer.Written() != 700 {
		t.Errorf("persisted = %d, want 700", writer.Written())
	}
}

func TestPool_FetchFailureEndsRunWithError(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(5000, 100)
	fetcher.failAt[300] = errFetch
	writer := &fakeWriter{}
	pool := newTestPool(t, testConfig(100, 4), fetcher, store, writer)
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, 5000)

	if result.Status != runstatus.StatusError {
		t.Fatalf("Status = %q, want Error", result.Status)
	}
	if !errors.Is(result.Err, errFetch) {
		t.Errorf("Err = %v, want %v", result.Err, errFetch)
	}
	if writer.calls != 0 {
		t.Errorf("writer calls = %d, want 0", writer.calls)
	}

	stored, _, _ := store.TryGet(context.Background())
	if stored.Status != runstatus.StatusError || stored.EndTime == nil {
		t.Errorf("stored = %+v, want Error with EndTime", stored)
	}
}

func TestPool_CancellationObserved(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(100000, 10)
	writer := &fakeWriter{}
	pool := newTestPool(t, testConfig(10, 1), fetcher, store, writer)
	record := startRecord(t, store, "run-1")

	if found, err := store.RequestCancellation(context.Background()); err != nil || !found {
		t.Fatalf("RequestCancellation() = (%v, %v)", found, err)
	}

	result := pool.Run(context.Background(), record, 100000)

	if result.Status != runstatus.StatusCancelled {
		t.Fatalf("Status = %q, want Cancelled", result.Status)
	}
	// The single worker fetches on iteration 1 and polls on iteration 2.
	if got := len(fetcher.Offsets()); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if writer.calls != 0 {
		t.Errorf("writer calls = %d, want 0", writer.calls)
	}

	stored, _, _ := store.TryGet(context.Background())
	if stored.Status != runstatus.StatusCancelled || stored.EndTime == nil || !stored.CancellationRequested {
		t.Errorf("stored = %+v, want Cancelled with EndTime and flag kept", stored)
	}
}

func TestRun_TerminalStatus(t *testing.T) {
	tests := []struct {
		name   string
		failed bool
		cancel bool
		want   runstatus.Status
	}{
		{name: "clean", want: runstatus.StatusCompleted},
		{name: "cancelled", cancel: true, want: runstatus.StatusCancelled},
		{name: "failed", failed: true, want: runstatus.StatusError},
		{name: "failed and cancelled", failed: true, cancel: true, want: runstatus.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &run{}
			r.isError.Store(tt.failed)
			r.shouldCancel.Store(tt.cancel)
			if got := r.terminalStatus(); got != tt.want {
				t.Errorf("terminalStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPool_PersistFailureIsError(t *testing.T) {
	store := setupStore(t)
	writeErr := errors.New("disk full")
	writer := &fakeWriter{err: writeErr}
	pool := newTestPool(t, testConfig(50, 2), newFakeFetcher(100, 50), store, writer)
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, 100)

	if result.Status != runstatus.StatusError {
		t.Fatalf("Status = %q, want Error", result.Status)
	}
	if !errors.Is(result.Err, writeErr) {
		t.Errorf("Err = %v, want %v", result.Err, writeErr)
	}
	stored, _, _ := store.TryGet(context.Background())
	if stored.Status != runstatus.StatusError {
		t.Errorf("stored status = %q, want Error", stored.Status)
	}
}

func TestPool_ZeroTarget(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(0, 10)
	pool := newTestPool(t, testConfig(10, 3), fetcher, store, &fakeWriter{})
	record := startRecord(t, store, "run-1")

	result := pool.Run(context.Background(), record, 0)

	if result.Status != runstatus.StatusCompleted {
		t.Errorf("Status = %q, want Completed", result.Status)
	}
	if got := len(fetcher.Offsets()); got != 0 {
		t.Errorf("fetches = %d, want 0", got)
	}
}

func TestPool_QueriesSentToEndpoint(t *testing.T) {
	store := setupStore(t)
	fetcher := newFakeFetcher(20, 10)
	pool := newTestPool(t, testConfig(10, 1), fetcher, store, &fakeWriter{})
	record := startRecord(t, store, "run-1")

	pool.Run(context.Background(), record, 20)

	for _, q := range fetcher.queries {
		if !strings.HasPrefix(q, "fields id,name,slug,summary,first_release_date,total_rating;sort id asc;") {
			t.Errorf("query = %q", q)
		}
		if !strings.HasSuffix(q, "limit 10;") {
			t.Errorf("query = %q, want limit 10", q)
		}
	}
}
