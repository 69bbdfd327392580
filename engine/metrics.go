package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semreq/workflow"
)

const namespace = "semreq"

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	BulkSubmitted  *prometheus.CounterVec
	OracleDuration *prometheus.HistogramVec
	OracleCalls    *prometheus.CounterVec
	CorpusReloads  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "transitions_total",
			Help:      "Governance transitions by register, action and result.",
		}, []string{"register", "action", "result"}),
		BulkSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "bulk_submitted_total",
			Help:      "Items advanced by bulk submit.",
		}, []string{"register"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "oracle_duration_seconds",
			Help:      "Duration of threshold suggestion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"oracle"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "oracle_calls_total",
			Help:      "Threshold suggestion calls by oracle and outcome.",
		}, []string{"oracle", "outcome"}),
		CorpusReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "reloads_total",
			Help:      "Corpus reloads by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.BulkSubmitted, m.OracleDuration, m.OracleCalls, m.CorpusReloads)
	}
	return m
}

func (m *Metrics) observeTransition(register workflow.Register, action workflow.Action, err error) {
	m.Transitions.WithLabelValues(string(register), string(action), transitionResult(err)).Inc()
}

func transitionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrUnknownAction):
		return "unknown_action"
	default:
		return "error"
	}
}

func (m *Metrics) observeOracle(oracle string, elapsed time.Duration, err error) {
	m.OracleDuration.WithLabelValues(oracle).Observe(elapsed.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OracleCalls.WithLabelValues(oracle, outcome).Inc()
}

func (m *Metrics) observeReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CorpusReloads.WithLabelValues(result).Inc()
}
