package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		llmTokensIn,
		llmTokensOut,
		llmCostUSD,
		llmCallLatency,
		llmCallsTotal,
		llmRetriesTotal,
	)
}

var (
	llmTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_in_total",
			Help: "Sum of input tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	llmTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_out_total",
			Help: "Sum of output tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	llmCostUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Realized spend in USD per model.",
		},
		[]string{"model"},
	)

	llmCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"provider", "outcome"},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Provider calls by outcome (ok|transient|fatal).",
		},
		[]string{"provider", "outcome"},
	)

	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_retries_total",
			Help: "Backoff retries issued after transient failures.",
		},
		[]string{"model"},
	)
)

func ObserveLLMCall(provider, model string, tokensIn, tokensOut int, latency time.Duration, outcome string) {
	llmCallsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
	llmCallLatency.WithLabelValues(norm(provider), norm(outcome)).Observe(latency.Seconds())
	if tokensIn > 0 || tokensOut > 0 {
		llmTokensIn.WithLabelValues(norm(provider), norm(model)).Add(float64(tokensIn))
		llmTokensOut.WithLabelValues(norm(provider), norm(model)).Add(float64(tokensOut))
	}
}

func AddCost(model string, usd float64) {
	if usd > 0 {
		llmCostUSD.WithLabelValues(norm(model)).Add(usd)
	}
}

func IncLLMRetry(model string) {
	llmRetriesTotal.WithLabelValues(norm(model)).Inc()
}
