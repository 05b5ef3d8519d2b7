package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/logging"
	"omnicoder/internal/infra/metrics"
)

// Compile-time check
var _ adapter.LLMClient = (*RetryingClient)(nil)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RetryingClient retries transient failures with exponential backoff (base, doubling, capped).
// Fatal errors surface on the first attempt. Once the budget is spent the last error is
// wrapped in adapter.ErrRetriesExhausted.
type RetryingClient struct {
	inner adapter.LLMClient
	cfg   RetryConfig
	log   *zerolog.Logger
}

func NewRetryingClient(inner adapter.LLMClient, cfg RetryConfig, logger *zerolog.Logger) *RetryingClient {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	l := logger.With().Str("component", "llm_retry").Logger()
	return &RetryingClient{inner: inner, cfg: cfg, log: &l}
}

func (r *RetryingClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.cfg.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(r.cfg.MaxDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx)
}

func (r *RetryingClient) Call(ctx context.Context, req adapter.LLMRequest) (*adapter.LLMResponse, error) {
	log := logging.With(ctx, r.log)
	attempt := 0
	op := func() (*adapter.LLMResponse, error) {
		attempt++
		resp, err := r.inner.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !adapter.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		metrics.IncLLMRetry(req.Model)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Str("model", req.Model).Msg("transient llm error, retrying")
	}

	resp, err := backoff.RetryNotifyWithData(op, r.newBackOff(ctx), notify)
	if err != nil {
		if adapter.IsTransient(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %d attempts: %w", adapter.ErrRetriesExhausted, attempt, err)
		}
		return nil, err
	}
	return resp, nil
}
