package meiliguard

import (
	"time"
)

// MetricsCollector defines the interface for collecting supervision metrics
type MetricsCollector interface {
	// InstanceClaim records the role an instance claim resolved to
	InstanceClaim(role Role)

	// WakeReceived records a wake byte read from a secondary instance
	WakeReceived(sig WakeSignal)

	// ProcessStateTransition records a managed process state change
	ProcessStateTransition(strategy string, from, to State)

	// TeardownDuration records how long a teardown took
	TeardownDuration(strategy string, duration time.Duration, err error)

	// HealthProbe records the outcome of a service health probe
	HealthProbe(err error)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) InstanceClaim(Role)                            {}
func (n *noopMetricsCollector) WakeReceived(WakeSignal)                       {}
func (n *noopMetricsCollector) ProcessStateTransition(string, State, State)   {}
func (n *noopMetricsCollector) TeardownDuration(string, time.Duration, error) {}
func (n *noopMetricsCollector) HealthProbe(error)                             {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
