package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_ingest_batches_total",
		Help: "Total number of batch fetches by result (rows, empty, error)",
	}, []string{"result"})

	ingestRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_records_total",
		Help: "Total number of catalog records fetched",
	})

	ingestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_ingest_runs_total",
		Help: "Total number of finished ingestion runs by terminal status",
	}, []string{"status"})

	ingestProgressRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_ingest_progress_ratio",
		Help: "Fetched records of the current run divided by its target (0-1)",
	})

	ingestRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_ingest_run_duration_seconds",
		Help:    "Duration of finished ingestion runs",
		Buckets: []float64{1, 10, 30, 60, 300, 600, 1800, 3600},
	})
)
