package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(loopStagesTotal, loopRunsTotal, loopIterations) }

var (
	loopStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_stage_total",
			Help: "Generation loop stage executions by stage and result.",
		},
		[]string{"stage", "result"},
	)

	loopRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_runs_total",
			Help: "Generation loop runs by terminal outcome.",
		},
		[]string{"outcome"}, // done | not_coding | exhausted | error
	)

	loopIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_run_iterations",
		Help:    "Iterations consumed per run.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})
)

func IncStage(stage, result string) {
	loopStagesTotal.WithLabelValues(norm(stage), norm(result)).Inc()
}

func ObserveRun(outcome string, iterations int) {
	loopRunsTotal.WithLabelValues(norm(outcome)).Inc()
	loopIterations.Observe(float64(iterations))
}
