// Package metrics exposes Prometheus collectors for runs and steps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "conveyor"

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_started_total",
		Help:      "Count of runs accepted by the registry",
	}, []string{
		"kind",
	})

	runsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_completed_total",
		Help:      "Count of finished runs by outcome",
	}, []string{
		"kind",
		"status",
	})

	runsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "runs_active",
		Help:      "Runs currently executing",
	}, []string{
		"kind",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of finished runs",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{
		"kind",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "steps_total",
		Help:      "Count of finished steps by outcome",
	}, []string{
		"kind",
		"status",
	})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "run_conflicts_total",
		Help:      "Count of run requests rejected because the target was busy",
	}, []string{
		"kind",
	})
)

// RecordRunStarted counts a new run.
func RecordRunStarted(kind string) {
	runsStarted.WithLabelValues(kind).Inc()
	runsActive.WithLabelValues(kind).Inc()
}

// RecordRunCompleted counts a finished run and observes its duration.
func RecordRunCompleted(kind, status string, d time.Duration) {
	runsCompleted.WithLabelValues(kind, status).Inc()
	runsActive.WithLabelValues(kind).Dec()
	runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordStep counts a finished step.
func RecordStep(kind, status string) {
	stepsTotal.WithLabelValues(kind, status).Inc()
}

// RecordConflict counts a rejected duplicate run request.
func RecordConflict(kind string) {
	conflictsTotal.WithLabelValues(kind).Inc()
}
