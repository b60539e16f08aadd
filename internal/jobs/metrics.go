package jobs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	JobsTotal           = "spotsync_jobs_total"
	JobDurationSeconds  = "spotsync_job_duration_seconds"
	RecordsChangedTotal = "spotsync_records_changed_total"
)

// Outcome labels for [JobsTotal].
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics holds the scheduler's collectors.
type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	RecordsChanged *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: JobsTotal,
			Help: "Count of finished job attempts by outcome",
		}, []string{"kind", "resource", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    JobDurationSeconds,
			Help:    "Duration of job attempts",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind", "resource"}),
		RecordsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: RecordsChangedTotal,
			Help: "Count of synced records added or removed by reconciliation",
		}, []string{"resource", "op"}),
	}

	if reg != nil {
		reg.MustRegister(m.JobsTotal, m.JobDuration, m.RecordsChanged)
	}
	return m
}

// NewRegistry returns a registry with the Go and process collectors and m registered.
func NewRegistry(m *Metrics) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if m != nil {
		registry.MustRegister(m.JobsTotal, m.JobDuration, m.RecordsChanged)
	}
	return registry
}

// Handler exposes registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
