package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks successful reads
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_hits_total",
			Help: "Total number of shared cache hits",
		},
	)

	// CacheMisses tracks reads of absent or expired keys
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_misses_total",
			Help: "Total number of shared cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "update"
	)

	// CacheConflicts tracks optimistic transactions that lost a race
	CacheConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_conflicts_total",
			Help: "Total number of optimistic update conflicts",
		},
	)
)
