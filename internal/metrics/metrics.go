// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "companion"

// Gateway attempt results.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Flush kinds.
const (
	FlushMaterialize = "materialize"
	FlushThrottled   = "throttled"
	FlushFinal       = "final"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	segmentsDropped *prometheus.CounterVec
	gatewayAttempts *prometheus.CounterVec
	sessionOutcomes *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	voiceTiers      *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	healthProbes    *prometheus.CounterVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.segmentsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "segments_dropped_total",
			Help:      "Stream segments discarded by the decoder",
		},
		[]string{"reason"},
	)

	m.gatewayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "attempts_total",
			Help:      "Chat stream connection attempts",
		},
		[]string{"result"},
	)

	m.sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		},
		[]string{"outcome"},
	)

	m.flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "flushes_total",
			Help:      "Visible transcript refreshes by kind",
		},
		[]string{"kind"},
	)

	m.voiceTiers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "voice",
			Name:      "synthesis_total",
			Help:      "Voice synthesis attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	m.persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "failures_total",
			Help:      "Failed thread store operations",
		},
		[]string{"op"},
	)

	m.healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "health_probes_total",
			Help:      "Backend health probes by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		m.segmentsDropped,
		m.gatewayAttempts,
		m.sessionOutcomes,
		m.flushes,
		m.voiceTiers,
		m.persistFailures,
		m.healthProbes,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SegmentDropped counts a discarded stream segment.
func (m *Metrics) SegmentDropped(reason string) {
	if m == nil {
		return
	}
	m.segmentsDropped.WithLabelValues(reason).Inc()
}

// GatewayAttempt counts one connection attempt.
func (m *Metrics) GatewayAttempt(result string) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(result).Inc()
}

// SessionOutcome counts a finished turn.
func (m *Metrics) SessionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(outcome).Inc()
}

// Flush counts a visible transcript refresh.
func (m *Metrics) Flush(kind string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(kind).Inc()
}

// VoiceTier counts one synthesis attempt.
func (m *Metrics) VoiceTier(tier, result string) {
	if m == nil {
		return
	}
	m.voiceTiers.WithLabelValues(tier, result).Inc()
}

// PersistFailure counts a failed thread store operation.
func (m *Metrics) PersistFailure(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

// HealthProbe counts a health probe.
func (m *Metrics) HealthProbe(result string) {
	if m == nil {
		return
	}
	m.healthProbes.WithLabelValues(result).Inc()
}
