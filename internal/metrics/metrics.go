// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts attendance submissions by outcome.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_submissions_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"result"})

	// FraudSignals counts recorded fraud signals by type.
	FraudSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_fraud_signals_total",
		Help: "Fraud signals recorded, by signal type.",
	}, []string{"type"})

	// SessionsSwept counts sessions closed by the expiry sweeper.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_swept_total",
		Help: "Sessions closed past their hard deadline by the sweeper.",
	})
)

// Submission outcome label values.
const (
	ResultAccepted = "accepted"
	ResultDup      = "already_recorded"
	ResultRejected = "rejected"
)
