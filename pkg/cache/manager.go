package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrConflict indicates an optimistic update kept losing to concurrent writers
	ErrConflict = errors.New("cache update conflict")
)

// MaxUpdateAttempts bounds the WATCH retries performed by Update.
const MaxUpdateAttempts = 5

// UpdateFunc receives the current entry (nil if absent or expired) and
// returns the value to store. Returning a nil value skips the write.
type UpdateFunc func(current *Entry) (any, error)

// Manager handles key-value operations with Redis backend.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get decodes the value stored under key into dst.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key Key, dst any) error {
	entry, err := m.GetEntry(ctx, key)
	if err != nil {
		return err
	}

	if err := entry.Decode(dst); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return err
	}
	return nil
}

// GetEntry returns the raw envelope stored under key.
func (m *Manager) GetEntry(ctx context.Context, key Key) (*Entry, error) {
	entry, err := readEntry(ctx, m.redis, key.String())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
		}
		return nil, err
	}

	if entry.IsExpired() {
		// Delete expired entry
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set stores value under key. A ttl of 0 stores without expiry.
func (m *Manager) Set(ctx context.Context, key Key, value any, ttl time.Duration) error {
	if value == nil {
		return fmt.Errorf("cache value cannot be nil")
	}

	entry, err := NewEntry(value, ttl)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := writeEntry(ctx, m.redis, key.String(), entry); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Update performs an atomic read-modify-write of key using WATCH/MULTI.
// Errors returned by fn abort the update and are returned unchanged.
func (m *Manager) Update(ctx context.Context, key Key, ttl time.Duration, fn UpdateFunc) error {
	cacheKey := key.String()

	txf := func(tx *redis.Tx) error {
		current, err := readEntry(ctx, tx, cacheKey)
		switch {
		case errors.Is(err, ErrCacheMiss):
			current = nil
		case err != nil:
			return err
		case current.IsExpired():
			current = nil
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		entry, err := NewEntry(next, ttl)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey, data, entry.TTL())
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= MaxUpdateAttempts; attempt++ {
		err := m.redis.Watch(ctx, txf, cacheKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			CacheConflicts.Inc()
			continue
		}
		return err
	}

	CacheErrors.WithLabelValues("update").Inc()
	return fmt.Errorf("%w after %d attempts: %s", ErrConflict, MaxUpdateAttempts, cacheKey)
}

// getter and setter are satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

func readEntry(ctx context.Context, cmd getter, cacheKey string) (*Entry, error) {
	data, err := cmd.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func writeEntry(ctx context.Context, cmd setter, cacheKey string, entry *Entry) error {
	if entry.IsExpired() {
		// Already expired, don't store
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := cmd.Set(ctx, cacheKey, data, entry.TTL()).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
