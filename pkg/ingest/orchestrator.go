package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/game-catalog-ingest/pkg/query"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
)

// Orchestrator is the entry point for starting, stopping and inspecting
// ingestion runs. Only one run may be Running at a time.
type Orchestrator struct {
	pool    *Pool
	fetcher Fetcher
	store   StatusStore
	logger  zerolog.Logger

	mu    sync.Mutex
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string

	// runs holds the ids of runs launched here whose pool has not returned.
	runsMu sync.Mutex
	runs   map[string]struct{}
}

// NewOrchestrator creates an orchestrator that launches runs on pool.
func NewOrchestrator(pool *Pool, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		fetcher: pool.fetcher,
		store:   pool.store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		runs:    make(map[string]struct{}),
	}
}

// Start sizes a new run, claims the run slot and launches the pool in the
// background. It returns as soon as the run record is stored.
//
// Returns ErrAlreadyInProgress if a run is Running and ErrGeneral if the
// run could not be created.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, found, err := o.store.TryGet(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read run record: %w", ErrGeneral, err)
	}
	if found && current.IsRunning() {
		o.logger.Warn().Str("run_id", current.ID).Msg("Ingestion already in progress")
		return "", ErrAlreadyInProgress
	}

	total, err := o.fetcher.Count(ctx, query.New().Query(o.pool.config.CountQuery).Build())
	if err != nil {
		o.logger.Error().Err(err).Msg("Catalog count query failed")
		return "", fmt.Errorf("%w: count catalog records: %w", ErrGeneral, err)
	}

	record := runstatus.NewRecord(o.newID(), o.now())
	claimed, err := o.store.Claim(ctx, record)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneral, err)
	}
	if !claimed {
		return "", ErrAlreadyInProgress
	}

	// The run outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)

	o.track(record.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(record.ID)
		o.pool.Run(runCtx, record, total)
	}()

	o.logger.Info().
		Str("run_id", record.ID).
		Int("items_to_fetch", total).
		Msg("Ingestion run started")

	return record.ID, nil
}

// Stop requests cooperative cancellation of the stored run. It returns
// false if there is no run record. The status is left to the pool.
func (o *Orchestrator) Stop(ctx context.Context) (bool, error) {
	found, err := o.store.RequestCancellation(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		o.logger.Info().Msg("Stop requested but no ingestion run exists")
		return false, nil
	}
	o.logger.Info().Msg("Cancellation requested for ingestion run")
	return true, nil
}

// CheckStatus returns the stored run status, or NotRunning without a record.
func (o *Orchestrator) CheckStatus(ctx context.Context) (runstatus.Status, error) {
	record, found, err := o.store.TryGet(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return runstatus.StatusNotRunning, nil
	}
	return record.Status, nil
}

// Record returns the stored run record.
func (o *Orchestrator) Record(ctx context.Context) (runstatus.Record, bool, error) {
	return o.store.TryGet(ctx)
}

// Progress returns the in-memory progress of the most recent run.
func (o *Orchestrator) Progress() Progress {
	return o.pool.Progress()
}

// Owns reports whether id belongs to a run launched by this orchestrator
// that is still executing.
func (o *Orchestrator) Owns(id string) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	_, ok := o.runs[id]
	return ok
}

func (o *Orchestrator) track(id string) {
	o.runsMu.Lock()
	o.runs[id] = struct{}{}
	o.runsMu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.runsMu.Lock()
	delete(o.runs, id)
	o.runsMu.Unlock()
}

// Wait blocks until every run launched by this orchestrator has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
