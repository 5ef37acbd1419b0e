package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_decisions_total",
		Help: "Floor decisions by action and reason",
	}, []string{"action", "reason"})

	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_state_transitions_total",
		Help: "Agent speech state transitions",
	}, []string{"from", "to"})

	metricConfirmTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floor_confirmation_timeouts_total",
		Help: "Confirmation windows that expired without a decision",
	})

	metricStale = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floor_stale_events_total",
		Help: "Events dropped because they belonged to a superseded generation",
	}, []string{"kind"}) // timer, transcript, resume, pending

	metricPauseUnsupported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "floor_pause_unsupported_total",
		Help: "Onsets where audio output could not pause",
	})

	metricDecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "floor_decision_latency_ms",
		Help:    "Latency from speech onset to a terminal decision",
		Buckets: prometheus.ExponentialBuckets(10, 1.6, 12),
	})
)
