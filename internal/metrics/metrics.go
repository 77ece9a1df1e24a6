// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monetize"

var (
	// Labels: path (chat, evaluate), outcome (completed, client_gone, upstream_error)
	streams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "streams_total",
		Help:      "Relayed model streams by path and outcome",
	}, []string{"path", "outcome"})

	streamDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "deltas_total",
		Help:      "Non-empty text deltas received from the model",
	}, []string{"path"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "stream_duration_seconds",
		Help:      "Time from upstream call to end of stream",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"path"})

	// Labels: operation (chat, eval), decision (allowed, rejected, degraded)
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by operation",
	}, []string{"operation", "decision"})

	// Labels: task, outcome (ok, error, panic)
	dispatchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "tasks_total",
		Help:      "Follow-up tasks run after a stream closed",
	}, []string{"task", "outcome"})

	dispatchQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "queued_tasks",
		Help:      "Follow-up tasks waiting for a worker",
	})

	// Labels: outcome (ok, no_data, error)
	weeklyRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "insights",
		Name:      "weekly_runs_total",
		Help:      "Weekly analysis runs by outcome",
	}, []string{"outcome"})
)

func RecordStream(path, outcome string, seconds float64) {
	streams.WithLabelValues(path, outcome).Inc()
	streamDuration.WithLabelValues(path).Observe(seconds)
}

func RecordDelta(path string) {
	streamDeltas.WithLabelValues(path).Inc()
}

func RecordRateLimit(operation, decision string) {
	rateLimitDecisions.WithLabelValues(operation, decision).Inc()
}

func RecordDispatchTask(task, outcome string) {
	dispatchTasks.WithLabelValues(task, outcome).Inc()
}

// SetDispatchQueued reports the current queue depth.
func SetDispatchQueued(n int) {
	dispatchQueued.Set(float64(n))
}

func RecordWeeklyRun(outcome string) {
	weeklyRuns.WithLabelValues(outcome).Inc()
}
