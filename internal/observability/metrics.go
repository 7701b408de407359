package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	HoursProcessed  prometheus.Counter
	HoursSkipped    prometheus.Counter
	TransformErrors prometheus.Counter
	LoadErrors      prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Cycle lifecycle metrics.
	CyclesCompleted  prometheus.Counter
	CyclesRetired    prometheus.Counter
	RetirementErrors prometheus.Counter

	HourProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		HoursProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "hours_processed_total",
			Help:      "Total forecast hours fully processed and registered.",
		}),
		HoursSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "hours_skipped_total",
			Help:      "Total notifications skipped because the object key was not recognized.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "transform_errors_total",
			Help:      "Total raster or vector transformation failures.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "load_errors_total",
			Help:      "Total failures loading artifacts into stores.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gfs_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		CyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "cycles_completed_total",
			Help:      "Total forecast cycles that reached completeness and were promoted.",
		}),
		CyclesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "cycles_retired_total",
			Help:      "Total superseded cycles removed after a promotion.",
		}),
		RetirementErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfs_etl",
			Name:      "retirement_errors_total",
			Help:      "Total failures while removing retired cycle artifacts.",
		}),
		HourProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gfs_etl",
			Name:      "hour_processing_duration_seconds",
			Help:      "Duration of a complete forecast-hour extract-transform-load run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
	}

	prometheus.MustRegister(
		m.HoursProcessed,
		m.HoursSkipped,
		m.TransformErrors,
		m.LoadErrors,
		m.PipelineRunning,
		m.CyclesCompleted,
		m.CyclesRetired,
		m.RetirementErrors,
		m.HourProcessingDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		HoursProcessed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "hours_processed_total"}),
		HoursSkipped:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "hours_skipped_total"}),
		TransformErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "transform_errors_total"}),
		LoadErrors:             prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "load_errors_total"}),
		PipelineRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "gfs_etl", Name: "pipeline_running"}),
		CyclesCompleted:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "cycles_completed_total"}),
		CyclesRetired:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "cycles_retired_total"}),
		RetirementErrors:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "gfs_etl", Name: "retirement_errors_total"}),
		HourProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "gfs_etl", Name: "hour_processing_duration_seconds"}),
	}
}
