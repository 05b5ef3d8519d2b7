package ai

import (
	"context"

	"golang.org/x/time/rate"

	"omnicoder/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.LLMClient = (*limitedClient)(nil)

type limitedClient struct {
	inner   adapter.LLMClient
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewLimitedClient caps in-flight provider calls and, when rps > 0, the call rate.
func NewLimitedClient(inner adapter.LLMClient, maxConcurrent int, rps float64) adapter.LLMClient {
	if maxConcurrent <= 0 && rps <= 0 {
		return inner
	}
	l := &limitedClient{inner: inner}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

func (l *limitedClient) Call(ctx context.Context, req adapter.LLMRequest) (*adapter.LLMResponse, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-l.sem }()
	}
	return l.inner.Call(ctx, req)
}
