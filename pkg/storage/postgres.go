package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	gamesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_games_written_total",
		Help: "Total number of game rows upserted into the games table",
	})

	gameWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_game_write_errors_total",
		Help: "Total number of failed bulk game writes",
	})
)

// Schema creates the games table.
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id           BIGINT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	slug         TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	release_date TIMESTAMPTZ,
	total_rating DOUBLE PRECISION,
	payload      JSONB,
	ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const stagingTable = "games_staging"

var columns = []string{"id", "name", "slug", "summary", "release_date", "total_rating", "payload"}

const createStaging = `
CREATE TEMPORARY TABLE ` + stagingTable + ` (
	id           BIGINT NOT NULL,
	name         TEXT NOT NULL,
	slug         TEXT NOT NULL,
	summary      TEXT NOT NULL,
	release_date TIMESTAMPTZ,
	total_rating DOUBLE PRECISION,
	payload      JSONB
) ON COMMIT DROP;`

// Overlapping batches can deliver the same id twice; DISTINCT ON keeps one.
const upsertFromStaging = `
INSERT INTO games (id, name, slug, summary, release_date, total_rating, payload)
SELECT DISTINCT ON (id) id, name, slug, summary, release_date, total_rating, payload
FROM ` + stagingTable + `
ORDER BY id
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	slug = EXCLUDED.slug,
	summary = EXCLUDED.summary,
	release_date = EXCLUDED.release_date,
	total_rating = EXCLUDED.total_rating,
	payload = EXCLUDED.payload,
	ingested_at = now();`

// DB is the subset of *pgxpool.Pool used by PostgresWriter.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter bulk-loads games with the COPY protocol.
type PostgresWriter struct {
	db     DB
	logger zerolog.Logger
}

// NewPostgresWriter creates a writer over db.
func NewPostgresWriter(db DB, logger zerolog.Logger) *PostgresWriter {
	return &PostgresWriter{db: db, logger: logger}
}

// EnsureSchema creates the games table if it is missing.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create games table: %w", err)
	}
	return nil
}

// WriteGames upserts games in one transaction and returns the number of
// rows inserted or updated.
func (w *PostgresWriter) WriteGames(ctx context.Context, games []Game) (int64, error) {
	if len(games) == 0 {
		return 0, nil
	}

	n, err := w.writeGames(ctx, games)
	if err != nil {
		gameWriteErrorsTotal.Inc()
		return 0, err
	}

	gamesWrittenTotal.Add(float64(n))
	w.logger.Info().
		Int("games", len(games)).
		Int64("upserted", n).
		Msg("Games persisted")
	return n, nil
}

func (w *PostgresWriter) writeGames(ctx context.Context, games []Game) (int64, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			w.logger.Warn().Err(err).Msg("Rollback failed")
		}
	}()

	if _, err := tx.Exec(ctx, createStaging); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{stagingTable},
		columns,
		pgx.CopyFromSlice(len(games), func(i int) ([]any, error) {
			return games[i].values(), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy games: %w", err)
	}
	if copied != int64(len(games)) {
		return 0, fmt.Errorf("copied %d of %d games", copied, len(games))
	}

	tag, err := tx.Exec(ctx, upsertFromStaging)
	if err != nil {
		return 0, fmt.Errorf("upsert games: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit games: %w", err)
	}
	return tag.RowsAffected(), nil
}
