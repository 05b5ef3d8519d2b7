package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(taskTransitionsTotal, queueRunning, queueCapacity, taskRetriesTotal) }

var (
	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_transitions_total",
			Help: "Task status transitions, labeled by the new status.",
		},
		[]string{"status"},
	)

	queueRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_running",
		Help: "Tasks currently holding a concurrency slot.",
	})

	queueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_capacity",
		Help: "Configured concurrency cap.",
	})

	taskRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_retries_total",
			Help: "Scheduler retries, labeled by outcome (requeued|failed).",
		},
		[]string{"outcome"},
	)
)

func IncTaskTransition(status string) {
	taskTransitionsTotal.WithLabelValues(norm(status)).Inc()
}

func SetQueueRunning(n int) { queueRunning.Set(float64(n)) }

func SetQueueCapacity(n int) { queueCapacity.Set(float64(n)) }

func IncTaskRetry(outcome string) {
	taskRetriesTotal.WithLabelValues(norm(outcome)).Inc()
}
