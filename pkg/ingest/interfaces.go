package ingest

import (
	"context"

	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
	"github.com/Sternrassler/game-catalog-ingest/pkg/runstatus"
	"github.com/Sternrassler/game-catalog-ingest/pkg/storage"
)

// Fetcher is the remote catalog API. *catalog.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint, query string) ([]catalog.Record, error)
	Count(ctx context.Context, query string) (int, error)
}

// Limiter gates the call rate. *ratelimit.Limiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// StatusStore holds the run record. *runstatus.Store implements it.
type StatusStore interface {
	TryGet(ctx context.Context) (runstatus.Record, bool, error)
	Write(ctx context.Context, record runstatus.Record) error
	Claim(ctx context.Context, record runstatus.Record) (bool, error)

	// RequestCancellation sets CancellationRequested on the stored record
	// and reports whether one existed.
	RequestCancellation(ctx context.Context) (bool, error)
}

// GameWriter persists mapped records. *storage.PostgresWriter implements it.
type GameWriter interface {
	WriteGames(ctx context.Context, games []storage.Game) (int64, error)
}
