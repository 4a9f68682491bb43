// Package metrics defines the Prometheus instrumentation (A3) for
// queue depth, build duration, HTTP traffic, and exec sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector registered for the service.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	QueueInFlight    prometheus.Gauge
	BuildsTotal      *prometheus.CounterVec
	BuildDuration    *prometheus.HistogramVec
	BuildTransitions *prometheus.CounterVec

	DeployDuration *prometheus.HistogramVec
	DomainUpdates  prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ExecSessionsActive prometheus.Gauge
	ExecSessionsTotal  prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus collectors. Safe to call
// more than once; every caller after the first gets the same instance.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "portway_build_queue_depth",
				Help: "Number of build requests waiting to be dispatched",
			}),
			QueueInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "portway_build_queue_in_flight",
				Help: "Number of builds currently executing",
			}),
			BuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "portway_builds_total",
				Help: "Total number of builds, labeled by terminal status",
			}, []string{"status"}),
			BuildDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "portway_build_duration_seconds",
				Help:    "Time from build start to a terminal status",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to 2048s (~34min)
			}, []string{"status"}),
			BuildTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "portway_build_transitions_total",
				Help: "Total number of build status transitions",
			}, []string{"from_status", "to_status"}),

			DeployDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "portway_deploy_duration_seconds",
				Help:    "Time to run the container/network/volume/domain deploy sequence",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}, []string{"result"}),
			DomainUpdates: promauto.NewCounter(prometheus.CounterOpts{
				Name: "portway_domain_updates_total",
				Help: "Total number of routing table upserts",
			}),

			CacheHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "portway_cache_hits_total",
				Help: "Total number of Project/Domain cache hits",
			}),
			CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "portway_cache_misses_total",
				Help: "Total number of Project/Domain cache misses",
			}),

			ExecSessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "portway_exec_sessions_active",
				Help: "Number of currently open interactive exec sessions",
			}),
			ExecSessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "portway_exec_sessions_total",
				Help: "Total number of interactive exec sessions opened",
			}),

			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "portway_http_requests_total",
				Help: "Total number of ControlAPI HTTP requests",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "portway_http_request_duration_seconds",
				Help:    "ControlAPI HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path"}),
		}
	})
	return sharedMetrics
}

// RecordBuildTransition records a build status transition and, when
// toStatus is terminal, the total build duration.
func (m *Metrics) RecordBuildTransition(fromStatus, toStatus string, elapsed float64) {
	m.BuildTransitions.WithLabelValues(fromStatus, toStatus).Inc()
	switch toStatus {
	case "successful", "failed":
		m.BuildsTotal.WithLabelValues(toStatus).Inc()
		m.BuildDuration.WithLabelValues(toStatus).Observe(elapsed)
	}
}

// RecordDeploy records a deploy attempt's outcome and duration.
func (m *Metrics) RecordDeploy(result string, elapsed float64) {
	m.DeployDuration.WithLabelValues(result).Observe(elapsed)
	if result == "success" {
		m.DomainUpdates.Inc()
	}
}

// RecordHTTPRequest records one ControlAPI request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
