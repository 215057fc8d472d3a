// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tokenguard"

var (
	// AuthOutcomes counts middleware decisions by result (ok, anonymous, public, or a failure kind).
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_outcomes_total",
		Help:      "Authentication middleware decisions by result.",
	}, []string{"result"})

	// Revocations counts tokens written to the revocation store.
	Revocations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revocations_total",
		Help:      "Tokens revoked.",
	})

	// SweepRuns counts sweeper runs by result (ok, error, skipped).
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "Sweeper runs by result.",
	}, []string{"result"})

	// SweepDeleted counts rows removed by each sweeper job.
	SweepDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deleted_total",
		Help:      "Rows removed by sweeper jobs.",
	}, []string{"job"})
)
