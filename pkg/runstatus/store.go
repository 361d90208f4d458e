package runstatus

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/game-catalog-ingest/pkg/cache"
)

// Key is the fixed slot holding the run record.
var Key = cache.Key{Namespace: cache.DefaultNamespace, Name: "ingestion:run"}

// Store reads and writes the run record slot.
type Store struct {
	cache *cache.Manager
}

// NewStore creates a store backed by the shared cache.
func NewStore(manager *cache.Manager) *Store {
	return &Store{cache: manager}
}

// TryGet returns the current record. found is false when the slot is empty.
func (s *Store) TryGet(ctx context.Context) (Record, bool, error) {
	var record Record
	err := s.cache.Get(ctx, Key, &record)
	if errors.Is(err, cache.ErrCacheMiss) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get run record: %w", err)
	}
	return record, true, nil
}

// Write overwrites the slot.
func (s *Store) Write(ctx context.Context, record Record) error {
	if err := s.cache.Set(ctx, Key, record, 0); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Remove clears the slot.
func (s *Store) Remove(ctx context.Context) error {
	if err := s.cache.Delete(ctx, Key); err != nil {
		return fmt.Errorf("remove run record: %w", err)
	}
	return nil
}

// Claim writes record only if the slot is empty or holds a record that is
// not Running. The check and the write happen in one Redis transaction.
func (s *Store) Claim(ctx context.Context, record Record) (bool, error) {
	claimed := false
	err := s.cache.Update(ctx, Key, 0, func(current *cache.Entry) (any, error) {
		claimed = false
		if current != nil {
			var existing Record
			if err := current.Decode(&existing); err != nil {
				return nil, err
			}
			if existing.IsRunning() {
				return nil, nil
			}
		}
		claimed = true
		return record, nil
	})
	if errors.Is(err, cache.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim run record: %w", err)
	}
	return claimed, nil
}

// RequestCancellation sets CancellationRequested on the stored record in one
// Redis transaction. found is false when the slot is empty.
func (s *Store) RequestCancellation(ctx context.Context) (bool, error) {
	found := false
	err := s.cache.Update(ctx, Key, 0, func(current *cache.Entry) (any, error) {
		found = false
		if current == nil {
			return nil, nil
		}
		var record Record
		if err := current.Decode(&record); err != nil {
			return nil, err
		}
		found = true
		record.CancellationRequested = true
		return record, nil
	})
	if err != nil {
		return false, fmt.Errorf("request cancellation: %w", err)
	}
	return found, nil
}
