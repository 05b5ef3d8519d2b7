package ai

import (
	"time"

	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/metrics"
)

const (
	providerAnthropic = "anthropic"
	providerOpenAI    = "openai"
	providerGemini    = "gemini"
	providerNoop      = "noop"
)

// observe records one provider round trip.
func observe(provider, model string, resp *adapter.LLMResponse, err error, start time.Time) {
	outcome := "ok"
	switch {
	case adapter.IsFatal(err):
		outcome = "fatal"
	case adapter.IsTransient(err):
		outcome = "transient"
	case err != nil:
		outcome = "error"
	}
	var in, out int
	if resp != nil {
		in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	metrics.ObserveLLMCall(provider, model, in, out, time.Since(start), outcome)
}
