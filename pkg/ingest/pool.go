// Package ingest pulls the whole remote game catalog into local storage.
//
// A Pool runs a fixed number of workers that claim consecutive offset
// ranges, wait for the shared rate limiter, fetch one batch each and
// accumulate the results. The Orchestrator guards the single run slot and
// launches the pool in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
	"github.com/Sternrassler/game-catalog-ingest/pkg/query"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
	"github.com/Sternrassler/game-catalog-ingest/pkg/storage"
)

// DefaultFields are the game fields requested per batch.
var DefaultFields = []string{"id", "name", "slug", "summary", "first_release_date", "total_rating"}

// DefaultCountQuery counts every game in the catalog.
const DefaultCountQuery = `games/count "total" { where id > 0; }`

// Config holds pool configuration.
type Config struct {
	// Endpoint fetched by the workers (default: games).
	Endpoint string

	// Fields requested per batch.
	Fields []string

	// CountQuery is sent to the multiquery endpoint to size a run.
	CountQuery string

	// BatchSize is the number of records per remote call.
	BatchSize int

	// ConcurrencyLevel is the number of workers and the size of the
	// in-flight gate.
	ConcurrencyLevel int

	// CancelCheckEvery polls the run record every N iterations per worker.
	CancelCheckEvery int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:         catalog.EndpointGames,
		Fields:           DefaultFields,
		CountQuery:       DefaultCountQuery,
		BatchSize:        500,
		ConcurrencyLevel: 4,
		CancelCheckEvery: 2,
	}
}

// Progress is a snapshot of the current run.
type Progress struct {
	RunID   string  `json:"run_id,omitempty"`
	Target  int64   `json:"target"`
	Fetched int64   `json:"fetched"`
	Percent float64 `json:"percent"`
}

// Result summarizes a finished run.
type Result struct {
	RunID     string
	Status    runstatus.Status
	Fetched   int64
	Batches   int64
	Persisted int64
	Err       error
}

// Pool fetches the catalog with concurrent workers.
type Pool struct {
	fetcher Fetcher
	limiter Limiter
	store   StatusStore
	writer  GameWriter
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	current atomic.Pointer[run]
}

// NewPool creates a worker pool.
func NewPool(cfg Config, fetcher Fetcher, limiter Limiter, store StatusStore, writer GameWriter, logger zerolog.Logger) (*Pool, error) {
	if fetcher == nil || limiter == nil || store == nil || writer == nil {
		return nil, errors.New("fetcher, limiter, store and writer are required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.ConcurrencyLevel <= 0 {
		return nil, fmt.Errorf("concurrency level must be > 0 (got %d)", cfg.ConcurrencyLevel)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = catalog.EndpointGames
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if cfg.CountQuery == "" {
		cfg.CountQuery = DefaultCountQuery
	}
	if cfg.CancelCheckEvery <= 0 {
		cfg.CancelCheckEvery = 2
	}

	return &Pool{
		fetcher: fetcher,
		limiter: limiter,
		store:   store,
		writer:  writer,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// run is the per-run shared state of all workers.
type run struct {
	id     string
	target int64
	batch  int64
	gate   *semaphore.Weighted

	totalFetched  atomic.Int64
	currentOffset atomic.Int64
	batches       atomic.Int64
	isError       atomic.Bool
	shouldCancel  atomic.Bool

	mu      sync.Mutex
	records []catalog.Record
	err     error
}

func (r *run) done() bool {
	return r.totalFetched.Load() >= r.target || r.isError.Load() || r.shouldCancel.Load()
}

func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.isError.Store(true)
}

func (r *run) append(records []catalog.Record) {
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()
}

func (r *run) progress() Progress {
	p := Progress{
		RunID:   r.id,
		Target:  r.target,
		Fetched: r.totalFetched.Load(),
	}
	if p.Target > 0 {
		p.Percent = float64(p.Fetched) / float64(p.Target) * 100
	}
	return p
}

// terminalStatus picks the run outcome: Error beats Cancelled beats Completed.
func (r *run) terminalStatus() runstatus.Status {
	switch {
	case r.isError.Load():
		return runstatus.StatusError
	case r.shouldCancel.Load():
		return runstatus.StatusCancelled
	default:
		return runstatus.StatusCompleted
	}
}

// Progress returns a snapshot of the most recent run.
func (p *Pool) Progress() Progress {
	r := p.current.Load()
	if r == nil {
		return Progress{}
	}
	return r.progress()
}

// Run fetches itemsToFetch records for record, persists them if the run
// completes, and writes the terminal status. It blocks until every worker
// has returned.
func (p *Pool) Run(ctx context.Context, record runstatus.Record, itemsToFetch int) Result {
	start := p.now()

	r := &run{
		id:     record.ID,
		target: int64(itemsToFetch),
		batch:  int64(p.config.BatchSize),
		gate:   semaphore.NewWeighted(int64(p.config.ConcurrencyLevel)),
	}
	p.current.Store(r)
	ingestProgressRatio.Set(0)

	p.logger.Info().
		Str("run_id", r.id).
		Int("items_to_fetch", itemsToFetch).
		Int("batch_size", p.config.BatchSize).
		Int("concurrency", p.config.ConcurrencyLevel).
		Msg("Starting catalog ingestion")

	var wg sync.WaitGroup
	for i := 0; i < p.config.ConcurrencyLevel; i++ {
		wg.Add(1)
		go p.worker(ctx, r, i, &wg)
	}
	wg.Wait()

	result := Result{
		RunID:   r.id,
		Status:  r.terminalStatus(),
		Fetched: r.totalFetched.Load(),
		Batches: r.batches.Load(),
		Err:     r.err,
	}

	if result.Status == runstatus.StatusCompleted {
		persisted, err := p.writer.WriteGames(ctx, storage.GamesFromRecords(r.records))
		if err != nil {
			result.Status = runstatus.StatusError
			result.Err = fmt.Errorf("persist games: %w", err)
		}
		result.Persisted = persisted
	}
	r.records = nil

	if err := p.finish(ctx, record, result.Status); err != nil {
		result.Err = errors.Join(result.Err, err)
	}

	ingestRunsTotal.WithLabelValues(string(result.Status)).Inc()
	ingestRunDuration.Observe(p.now().Sub(start).Seconds())

	event := p.logger.Info()
	if result.Status == runstatus.StatusError {
		event = p.logger.Error().Err(result.Err)
	}
	event.
		Str("run_id", r.id).
		Str("status", string(result.Status)).
		Int64("fetched", result.Fetched).
		Int64("batches", result.Batches).
		Int64("persisted", result.Persisted).
		Dur("duration", p.now().Sub(start)).
		Msg("Catalog ingestion finished")

	return result
}

// worker claims offsets until the target is reached, a stop is observed,
// some worker fails, or the catalog runs out of records.
func (p *Pool) worker(ctx context.Context, r *run, workerID int, wg *sync.WaitGroup) {
	defer wg.Done()

	iteration := 0
	for !r.done() {
		iteration++

		if err := r.gate.Acquire(ctx, 1); err != nil {
			r.fail(fmt.Errorf("acquire fetch slot: %w", err))
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			r.gate.Release(1)
			r.fail(err)
			return
		}

		offset := r.currentOffset.Add(r.batch) - r.batch

		if r.done() || offset >= r.target {
			r.gate.Release(1)
			return
		}

		if iteration%p.config.CancelCheckEvery == 0 && p.cancellationRequested(ctx, r.id) {
			r.gate.Release(1)
			r.shouldCancel.Store(true)
			p.logger.Warn().
				Str("run_id", r.id).
				Int("worker_id", workerID).
				Msg("Cancellation requested - worker stopping")
			return
		}

		records, err := p.fetcher.Fetch(ctx, p.config.Endpoint, p.batchQuery(offset))
		if err != nil {
			r.gate.Release(1)
			ingestBatchesTotal.WithLabelValues("error").Inc()
			r.fail(fmt.Errorf("fetch offset %d: %w", offset, err))
			p.logger.Error().
				Err(err).
				Str("run_id", r.id).
				Int("worker_id", workerID).
				Int64("offset", offset).
				Msg("Batch fetch failed")
			return
		}

		if len(records) == 0 {
			r.gate.Release(1)
			ingestBatchesTotal.WithLabelValues("empty").Inc()
			p.logger.Debug().
				Int("worker_id", workerID).
				Int64("offset", offset).
				Msg("Empty batch - worker stopping")
			return
		}

		fetched := r.totalFetched.Add(int64(len(records)))
		r.gate.Release(1)

		r.batches.Add(1)
		r.append(records)
		ingestBatchesTotal.WithLabelValues("rows").Inc()
		ingestRecordsTotal.Add(float64(len(records)))

		percent := float64(fetched) / float64(r.target) * 100
		ingestProgressRatio.Set(min(percent/100, 1))

		minID, maxID := catalog.IDRange(records)
		p.logger.Info().
			Str("run_id", r.id).
			Int("worker_id", workerID).
			Int64("offset", offset).
			Int("records", len(records)).
			Int64("min_id", minID).
			Int64("max_id", maxID).
			Int64("fetched", fetched).
			Int64("target", r.target).
			Float64("progress_pct", percent).
			Msg("Batch fetched")
	}
}

func (p *Pool) batchQuery(offset int64) string {
	return query.New().
		Fields(p.config.Fields...).
		Sort("id asc").
		Offset(int(offset)).
		Limit(p.config.BatchSize).
		Build()
}

// cancellationRequested polls the run record. Read failures are logged and
// treated as "keep going".
func (p *Pool) cancellationRequested(ctx context.Context, runID string) bool {
	record, found, err := p.store.TryGet(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("run_id", runID).Msg("Cancellation check failed")
		return false
	}
	return found && record.CancellationRequested
}

// finish writes the terminal status, keeping fields set by Stop meanwhile.
func (p *Pool) finish(ctx context.Context, record runstatus.Record, status runstatus.Status) error {
	if current, found, err := p.store.TryGet(ctx); err == nil && found && current.ID == record.ID {
		record = current
	}
	if err := record.Finish(status, p.now()); err != nil {
		return err
	}
	if err := p.store.Write(ctx, record); err != nil {
		p.logger.Error().Err(err).Str("run_id", record.ID).Msg("Failed to write final run status")
		return err
	}
	return nil
}
