package ingest

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seanblong/repochat/pkg/models"
)

// metricsIngestion holds Prometheus metrics for the ingestion pipeline.
type metricsIngestion struct {
	once sync.Once

	jobs        *prometheus.CounterVec
	files       prometheus.Counter
	chunks      prometheus.Counter
	embedErrors prometheus.Counter

	embedDuration prometheus.Histogram
	jobDuration   prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repochat_ingest_jobs_total", Help: "Ingestion jobs by terminal status"}, []string{"status"})
		m.files = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ingest_files_total", Help: "Files chunked and embedded"})
		m.chunks = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ingest_chunks_total", Help: "Chunks embedded and stored"})
		m.embedErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repochat_ingest_embed_errors_total", Help: "Embedding provider errors"})

		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repochat_ingest_embed_seconds",
			Help:    "Embedding call latency including pacing",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		})
		m.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repochat_ingest_job_seconds",
			Help:    "End-to-end ingestion job duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		})

		prometheus.MustRegister(m.jobs, m.files, m.chunks, m.embedErrors, m.embedDuration, m.jobDuration)
	})
}

func recordJob(status models.Status, d time.Duration) {
	ingMetrics.init()
	ingMetrics.jobs.WithLabelValues(string(status)).Inc()
	ingMetrics.jobDuration.Observe(d.Seconds())
}

func recordFile() { ingMetrics.init(); ingMetrics.files.Inc() }

func recordChunk() { ingMetrics.init(); ingMetrics.chunks.Inc() }

func recordEmbed(d time.Duration, err error) {
	ingMetrics.init()
	ingMetrics.embedDuration.Observe(d.Seconds())
	if err != nil {
		ingMetrics.embedErrors.Inc()
	}
}
