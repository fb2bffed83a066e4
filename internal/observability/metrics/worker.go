package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsInFlight   prometheus.Gauge
	filesProcessed *prometheus.CounterVec
	chunksUpserted *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Total ingest jobs by status.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Ingest job duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"service", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "jobs_in_flight",
			Help:      "Number of ingest jobs currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	filesProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "files_processed_total",
			Help:      "Total chunk files fully ingested.",
		},
		[]string{"service"},
	)
	chunksUpserted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "chunks_upserted_total",
			Help:      "Total chunk records written to the vector store.",
		},
		[]string{"service"},
	)
	recordsSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biolit",
			Subsystem: "ingest",
			Name:      "records_skipped_total",
			Help:      "Total malformed or empty records skipped during ingestion.",
		},
		[]string{"service"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, filesProcessed, chunksUpserted, recordsSkipped)

	return &WorkerMetrics{
		registry:       registry,
		jobsTotal:      jobsTotal,
		jobDuration:    jobDuration,
		jobsInFlight:   jobsInFlight,
		filesProcessed: filesProcessed,
		chunksUpserted: chunksUpserted,
		recordsSkipped: recordsSkipped,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service string, duration time.Duration, err error) {
	m.jobsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobsTotal.WithLabelValues(service, status).Inc()
	m.jobDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveIngestProgress(service string, filesProcessed, chunksUpserted, recordsSkipped int) {
	if filesProcessed > 0 {
		m.filesProcessed.WithLabelValues(service).Add(float64(filesProcessed))
	}
	if chunksUpserted > 0 {
		m.chunksUpserted.WithLabelValues(service).Add(float64(chunksUpserted))
	}
	if recordsSkipped > 0 {
		m.recordsSkipped.WithLabelValues(service).Add(float64(recordsSkipped))
	}
}
