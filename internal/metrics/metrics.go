package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the dispatch pipeline. Incremented only after the durable
// transaction commits, so they never count rolled-back work.
var (
	AutoDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "auto_drops_total",
		Help:      "Assignments auto-dropped for missing confirmation",
	})

	NoShows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "no_shows_total",
		Help:      "Assignments flagged as no-show",
	})

	WindowsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "bid_windows_opened_total",
		Help:      "Bid windows opened, by mode",
	}, []string{"mode"})

	WindowsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "bid_windows_resolved_total",
		Help:      "Bid windows resolved with a winner, by mode",
	}, []string{"mode"})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "notifications_queued_total",
		Help:      "Outbox notifications handed to the delivery pool",
	})

	EvaluatorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "evaluator_runs_total",
		Help:      "Scheduled evaluator invocations, by step",
	}, []string{"step"})

	EvaluatorItemErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "evaluator_item_errors_total",
		Help:      "Per-item failures inside scheduled evaluator runs, by step",
	}, []string{"step"})
)
