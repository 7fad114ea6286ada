// Package telemetry exposes the agent's Prometheus metrics and the local
// endpoint that serves them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so callers never need telemetry to be enabled.
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal          *prometheus.CounterVec
	consecutiveFailures prometheus.Gauge
	pollInterval        prometheus.Gauge
	lockTransitions     *prometheus.CounterVec
	emergencyUnlocks    *prometheus.CounterVec
	heartbeatsTotal     prometheus.Counter
}

// NewMetrics creates and registers the agent collectors on a fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemanage_polls_total",
			Help: "Status poll attempts by outcome.",
		}, []string{"outcome"}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phonemanage_poll_consecutive_failures",
			Help: "Current run of consecutive failed status polls.",
		}),
		pollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phonemanage_poll_interval_seconds",
			Help: "Delay scheduled before the next status poll.",
		}),
		lockTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemanage_lock_transitions_total",
			Help: "Lock session transitions by resulting state and trigger.",
		}, []string{"state", "trigger"}),
		emergencyUnlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemanage_emergency_unlocks_total",
			Help: "Emergency unlock attempts by result.",
		}, []string{"result"}),
		heartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phonemanage_heartbeats_total",
			Help: "Presence heartbeats written to the server.",
		}),
	}

	collectors := []prometheus.Collector{
		m.pollsTotal,
		m.consecutiveFailures,
		m.pollInterval,
		m.lockTransitions,
		m.emergencyUnlocks,
		m.heartbeatsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPoll counts one poll attempt. Outcome is "success" or "failure".
func (m *Metrics) RecordPoll(outcome string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
}

// SetConsecutiveFailures publishes the current failure run length.
func (m *Metrics) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.consecutiveFailures.Set(float64(n))
}

// SetPollInterval publishes the delay scheduled before the next poll.
func (m *Metrics) SetPollInterval(seconds float64) {
	if m == nil {
		return
	}
	m.pollInterval.Set(seconds)
}

// RecordLockTransition counts a lock session transition.
func (m *Metrics) RecordLockTransition(state, trigger string) {
	if m == nil {
		return
	}
	m.lockTransitions.WithLabelValues(state, trigger).Inc()
}

// RecordEmergencyUnlock counts one emergency unlock attempt by result.
func (m *Metrics) RecordEmergencyUnlock(result string) {
	if m == nil {
		return
	}
	m.emergencyUnlocks.WithLabelValues(result).Inc()
}

// RecordHeartbeat counts one presence write.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsTotal.Inc()
}
