package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// reconciliation pipeline.
type Metrics struct {
	BatchesProcessed prometheus.Counter
	RowsSkipped      prometheus.Counter
	ReadingsMerged   prometheus.Counter
	PipelineRunning  prometheus.Gauge

	OutliersDetected   prometheus.Counter
	CorrectionsApplied prometheus.Counter

	// Batch processing metrics.
	BatchSize         prometheus.Histogram
	ReconcileDuration prometheus.Histogram

	// Series store metrics.
	StoreRequests *prometheus.CounterVec   // labels: op={load,save}, outcome={success,error}
	StoreDuration *prometheus.HistogramVec // labels: op={load,save}

	// Feed polling metrics.
	FeedPolls *prometheus.CounterVec // labels: outcome={success,error,empty}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		BatchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "batches_processed_total",
			Help:      "Total reading batches run through the reconciliation pipeline.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "rows_skipped_total",
			Help:      "Total raw rows dropped for unparsable timestamps.",
		}),
		ReadingsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "readings_merged_total",
			Help:      "Total readings added to or replaced in station series.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rain_reconciler",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		OutliersDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "outliers_detected_total",
			Help:      "Total readings flagged above the rainfall threshold.",
		}),
		CorrectionsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "corrections_applied_total",
			Help:      "Total outlier readings replaced with estimated values.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rain_reconciler",
			Name:      "batch_size",
			Help:      "Number of readings per incoming batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 50, 100, 250, 500},
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rain_reconciler",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a complete load-merge-correct-save cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "store_requests_total",
			Help:      "Series store operations by op and outcome.",
		}, []string{"op", "outcome"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rain_reconciler",
			Name:      "store_duration_seconds",
			Help:      "Series store request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		FeedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rain_reconciler",
			Name:      "feed_polls_total",
			Help:      "Upstream feed polls by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.BatchesProcessed,
		m.RowsSkipped,
		m.ReadingsMerged,
		m.PipelineRunning,
		m.OutliersDetected,
		m.CorrectionsApplied,
		m.BatchSize,
		m.ReconcileDuration,
		m.StoreRequests,
		m.StoreDuration,
		m.FeedPolls,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		BatchesProcessed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "batches_processed_total"}),
		RowsSkipped:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "rows_skipped_total"}),
		ReadingsMerged:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "readings_merged_total"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "rain_reconciler", Name: "pipeline_running"}),
		OutliersDetected:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "outliers_detected_total"}),
		CorrectionsApplied: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "corrections_applied_total"}),
		BatchSize:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "rain_reconciler", Name: "batch_size"}),
		ReconcileDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "rain_reconciler", Name: "reconcile_duration_seconds"}),
		StoreRequests:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "store_requests_total"}, []string{"op", "outcome"}),
		StoreDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "rain_reconciler", Name: "store_duration_seconds"}, []string{"op"}),
		FeedPolls:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rain_reconciler", Name: "feed_polls_total"}, []string{"outcome"}),
	}
}
