// Package storage maps fetched catalog records into the local games table
// and persists them in bulk.
package storage

import (
	"time"

	"github.com/Sternrassler/game-catalog-ingest/pkg/catalog"
)

// Game is the row shape of the games table.
type Game struct {
	ID          int64
	Name        string
	Slug        string
	Summary     string
	ReleaseDate *time.Time
	TotalRating *float64
	Payload     []byte
}

// GameFromRecord maps a remote catalog record to a games row.
// The full remote payload is kept in Payload.
func GameFromRecord(r catalog.Record) Game {
	g := Game{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Summary:     r.Summary,
		ReleaseDate: r.ReleaseDate(),
	}
	if r.TotalRating > 0 {
		rating := r.TotalRating
		g.TotalRating = &rating
	}
	if len(r.Raw) > 0 {
		g.Payload = r.Raw
	}
	return g
}

// GamesFromRecords maps every record in order.
func GamesFromRecords(records []catalog.Record) []Game {
	games := make([]Game, len(records))
	for i, r := range records {
		games[i] = GameFromRecord(r)
	}
	return games
}

func (g Game) values() []any {
	var payload any
	if len(g.Payload) > 0 {
		payload = g.Payload
	}
	return []any{g.ID, g.Name, g.Slug, g.Summary, g.ReleaseDate, g.TotalRating, payload}
}
