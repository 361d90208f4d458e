// Package cache provides the shared key-value store used by the ingestion
// subsystem, backed by Redis.
//
// Values are JSON-encoded and wrapped in an Entry envelope that records when
// they were stored and, optionally, when they expire.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Namespace: "catalog", Name: "ingestion:run"}
//
//	if err := manager.Set(ctx, key, record, 0); err != nil {
//		return err
//	}
//
//	var got Record
//	if err := manager.Get(ctx, key, &got); err == cache.ErrCacheMiss {
//		// nothing stored
//	}
//
// # Optimistic Updates
//
// Update runs a read-modify-write cycle inside a Redis WATCH transaction.
// If another client modifies the key between the read and the write, the
// cycle is retried; after MaxUpdateAttempts conflicts ErrConflict is returned.
//
//	err := manager.Update(ctx, key, 0, func(current *cache.Entry) (any, error) {
//		if current != nil {
//			return nil, errBusy // abort without writing
//		}
//		return newRecord, nil
//	})
//
// # Metrics
//
//   - catalog_cache_hits_total - Cache hits
//   - catalog_cache_misses_total - Cache misses
//   - catalog_cache_errors_total{operation} - Cache operation errors
//   - catalog_cache_conflicts_total - Optimistic update conflicts
package cache
