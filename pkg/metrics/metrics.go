// Package metrics exposes the Prometheus registry of the catalog ingester.
// All metrics are defined in their respective packages (catalog, ratelimit,
// cache, ingest, storage) via promauto to keep packages independent.
//
// This package provides the scrape handler and a reference of all series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by every package.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the same registry for scraping.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/catalog):
//   - catalog_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - catalog_request_duration_seconds{endpoint} (Histogram): Request duration including retries
//   - catalog_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/catalog):
//   - catalog_retries_total{error_class} (Counter): Retry attempts by error class
//   - catalog_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - catalog_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - catalog_rate_limit_admissions_total (Counter): Calls admitted by the sliding window
//   - catalog_rate_limit_delays_total (Counter): Admissions that had to wait for a slot
//   - catalog_rate_limit_wait_seconds (Histogram): Time spent waiting for a slot
//
// Run Record Metrics (pkg/cache):
//   - catalog_cache_hits_total (Counter): Reads that found an entry
//   - catalog_cache_misses_total (Counter): Reads of missing or expired entries
//   - catalog_cache_errors_total{operation} (Counter): Redis or decode failures
//   - catalog_cache_conflicts_total (Counter): WATCH transactions retried after a concurrent write
//
// Ingestion Metrics (pkg/ingest):
//   - catalog_ingest_batches_total{result} (Counter): Batch fetches by result (rows, empty, error)
//   - catalog_ingest_records_total (Counter): Records fetched
//   - catalog_ingest_runs_total{status} (Counter): Finished runs by terminal status
//   - catalog_ingest_progress_ratio (Gauge): Progress of the current run (0-1)
//   - catalog_ingest_run_duration_seconds (Histogram): Duration of finished runs
//
// Storage Metrics (pkg/storage):
//   - catalog_games_written_total (Counter): Rows upserted into games
//   - catalog_game_write_errors_total (Counter): Failed bulk writes
//
// Example Prometheus Queries:
//
//   # Throttled share of catalog calls
//   rate(catalog_rate_limit_delays_total[5m]) / rate(catalog_rate_limit_admissions_total[5m])
//
//   # Failed runs
//   increase(catalog_ingest_runs_total{status="Error"}[1d])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(catalog_request_duration_seconds_bucket[5m]))
