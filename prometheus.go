package meiliguard

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	claims           *prometheus.CounterVec
	wakes            *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec

	teardownDuration *prometheus.HistogramVec
	teardownErrors   *prometheus.CounterVec

	healthProbes *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector with its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "meiliguard"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_claims_total",
			Help:      "Total number of instance claims by resulting role",
		},
		[]string{"role"},
	)

	pmc.wakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_signals_total",
			Help:      "Total number of wake signals received",
		},
		[]string{"signal", "valid"},
	)

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_state_transitions_total",
			Help:      "Total number of managed process state transitions",
		},
		[]string{"strategy", "from_state", "to_state"},
	)

	pmc.teardownDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "teardown_duration_seconds",
			Help:      "Duration of managed process teardowns",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"strategy"},
	)

	pmc.teardownErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_errors_total",
			Help:      "Total number of teardowns that reported an error",
		},
		[]string{"strategy"},
	)

	pmc.healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Total number of service health probes by outcome",
		},
		[]string{"status"},
	)

	pmc.registry.MustRegister(
		pmc.claims,
		pmc.wakes,
		pmc.stateTransitions,
		pmc.teardownDuration,
		pmc.teardownErrors,
		pmc.healthProbes,
	)

	return pmc
}

// InstanceClaim records the role an instance claim resolved to
func (pmc *PrometheusMetricsCollector) InstanceClaim(role Role) {
	pmc.claims.WithLabelValues(role.String()).Inc()
}

// WakeReceived records a wake byte read from a secondary instance
func (pmc *PrometheusMetricsCollector) WakeReceived(sig WakeSignal) {
	valid := "false"
	if sig.Valid() {
		valid = "true"
	}
	pmc.wakes.WithLabelValues(sig.String(), valid).Inc()
}

// ProcessStateTransition records a managed process state change
func (pmc *PrometheusMetricsCollector) ProcessStateTransition(strategy string, from, to State) {
	pmc.stateTransitions.WithLabelValues(strategy, from.String(), to.String()).Inc()
}

// TeardownDuration records how long a teardown took
func (pmc *PrometheusMetricsCollector) TeardownDuration(strategy string, duration time.Duration, err error) {
	pmc.teardownDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if err != nil {
		pmc.teardownErrors.WithLabelValues(strategy).Inc()
	}
}

// HealthProbe records the outcome of a service health probe
func (pmc *PrometheusMetricsCollector) HealthProbe(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pmc.healthProbes.WithLabelValues(status).Inc()
}

// Registry returns the Prometheus registry backing this collector
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Handler returns an HTTP handler exposing the collector's registry
func (pmc *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pmc.registry, promhttp.HandlerOpts{})
}
