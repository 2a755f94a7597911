// Package telemetry exposes snapkeep job metrics to Prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the snapkeep instruments. It implements out.JobRecorder.
type Metrics struct {
	// Jobs
	JobsTotal    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	ArtifactSize prometheus.Histogram
	JobsRejected *prometheus.CounterVec

	// Retention
	RetentionDeletions prometheus.Counter
	RetentionFailures  prometheus.Counter
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "jobs_total",
			Help:      "Finished jobs by kind, trigger and terminal status.",
		}, []string{"kind", "trigger", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapkeep",
			Name:      "job_duration_seconds",
			Help:      "Job run time from claim to completion.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900, 1800},
		}, []string{"kind", "status"}),
		ArtifactSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snapkeep",
			Name:      "artifact_size_bytes",
			Help:      "Size of published backup artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
		}),
		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "jobs_rejected_total",
			Help:      "Jobs refused before running.",
		}, []string{"reason"}),
		RetentionDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "retention_deleted_total",
			Help:      "Artifacts deleted by the retention sweep.",
		}),
		RetentionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snapkeep",
			Name:      "retention_sweep_failures_total",
			Help:      "Retention sweeps that ended with at least one error.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.JobsTotal, m.JobDuration, m.ArtifactSize, m.JobsRejected, m.RetentionDeletions, m.RetentionFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) JobFinished(kind, trigger, status string, duration time.Duration, size int64) {
	m.JobsTotal.WithLabelValues(kind, trigger, status).Inc()
	m.JobDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	if size > 0 {
		m.ArtifactSize.Observe(float64(size))
	}
}

func (m *Metrics) JobRejected(reason string) {
	m.JobsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RetentionDeleted(count int) {
	m.RetentionDeletions.Add(float64(count))
}

func (m *Metrics) RetentionFailed() {
	m.RetentionFailures.Inc()
}
