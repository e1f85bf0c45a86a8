// Package metrics exports lifeline workflow telemetry to Prometheus.
// A Recorder is attached to workflows through their hooks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spacesvm/lifeline"
)

// Recorder collects workflow metrics
type Recorder struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	stateDuration *prometheus.HistogramVec
	calls         *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
	dialogs       prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "lifeline"
	}

	r := &Recorder{registry: prometheus.NewRegistry()}

	r.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow state transitions",
		},
		[]string{"from", "to"},
	)

	r.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "failures_total",
			Help:      "Workflows entering Failed, by failure kind",
		},
		[]string{"kind"},
	)

	r.stateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a state before leaving it",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"state"},
	)

	r.calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "total",
			Help:      "Completed quote, sign and submit calls",
		},
		[]string{"call", "result"},
	)

	r.callLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "duration_seconds",
			Help:      "Latency of quote, sign and submit calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	r.dialogs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "open_dialogs",
			Help:      "Dialogs currently open on the session API",
		},
	)

	r.registry.MustRegister(
		r.transitions,
		r.failures,
		r.stateDuration,
		r.calls,
		r.callLatency,
		r.dialogs,
	)

	return r
}

// Registry returns the Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WorkflowOptions attaches the recorder to a workflow
func (r *Recorder) WorkflowOptions() []lifeline.WorkflowOption {
	return []lifeline.WorkflowOption{
		lifeline.WithTransitionHook(r.RecordTransition),
		lifeline.WithCallHook(r.RecordCall),
	}
}

// RecordTransition counts a state change
func (r *Recorder) RecordTransition(tc lifeline.TransitionContext) {
	r.transitions.WithLabelValues(tc.From.String(), tc.To.String()).Inc()
	if tc.From != tc.To {
		r.stateDuration.WithLabelValues(tc.From.String()).Observe(tc.Duration.Seconds())
	}
	if tc.To == lifeline.StateFailed && tc.Failure != nil {
		r.failures.WithLabelValues(string(tc.Failure.Kind)).Inc()
	}
}

// RecordCall counts a completed collaborator call
func (r *Recorder) RecordCall(cc lifeline.CallContext) {
	result := "ok"
	switch {
	case cc.Stale:
		result = "stale"
	case cc.Error != nil:
		result = "error"
	}
	r.calls.WithLabelValues(string(cc.Call), result).Inc()
	r.callLatency.WithLabelValues(string(cc.Call)).Observe(cc.Duration.Seconds())
}

// DialogOpened increments the open dialog gauge
func (r *Recorder) DialogOpened() {
	r.dialogs.Inc()
}

// DialogClosed decrements the open dialog gauge
func (r *Recorder) DialogClosed() {
	r.dialogs.Dec()
}
