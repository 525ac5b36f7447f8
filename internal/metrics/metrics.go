// Package metrics exposes prometheus counters for circulation operations and
// hold expiry sweeps.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	// Operations counts circulation units of work by operation and outcome.
	// Error outcomes carry the failure kind ("policy_violation", "conflict", ...).
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "izposoja",
		Name:      "operations_total",
		Help:      "Circulation operations by name and outcome.",
	}, []string{"operation", "outcome"})

	// SweepHolds counts holds handled by committed expiry sweeps by result.
	SweepHolds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "izposoja",
		Name:      "sweep_holds_total",
		Help:      "Ready holds handled by applied expiry sweeps.",
	}, []string{"result"})

	// SweepRuns counts expiry sweep invocations by mode.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "izposoja",
		Name:      "sweep_runs_total",
		Help:      "Expiry sweep runs by mode (preview or apply).",
	}, []string{"mode"})
)

// ObserveOperation records one finished operation. An empty outcome counts as OutcomeOK.
func ObserveOperation(operation, outcome string) {
	if outcome == "" {
		outcome = OutcomeOK
	}
	Operations.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
