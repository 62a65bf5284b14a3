// Package metrics holds the Prometheus instruments recorded by the
// inspection service. All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inspectcheck"

// Outcome labels of Submissions.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics is a private registry and the instruments registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	Mutations         *prometheus.CounterVec
	Evaluations       prometheus.Counter
	Submissions       *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	ApplyDuration     prometheus.Histogram
}

// New creates and registers the instruments.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Engine mutations by operation and result.",
		}, []string{"op", "result"}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Inspection evaluations performed.",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts by outcome.",
		}, []string{"outcome"}),
		PersistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Store failures by operation.",
		}, []string{"op"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time to apply and save one batch of actions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	m.Registry.MustRegister(m.Mutations, m.Evaluations, m.Submissions, m.PersistenceErrors, m.ApplyDuration)
	return m
}

// Mutation counts one engine mutation. A nil err is recorded as "ok".
func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

// Evaluation counts one inspection evaluation.
func (m *Metrics) Evaluation() {
	if m == nil {
		return
	}
	m.Evaluations.Inc()
}

// Submission counts one submission attempt.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// PersistenceError counts one store failure.
func (m *Metrics) PersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}

// ObserveApply records the duration of an apply batch started at start.
func (m *Metrics) ObserveApply(start time.Time) {
	if m == nil {
		return
	}
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}

// WriteTextfile writes the registry to path in the Prometheus text format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
