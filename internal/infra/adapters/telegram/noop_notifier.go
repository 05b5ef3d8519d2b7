package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs task events instead of sending them, for runs without a bot token.
type NoopNotifier struct {
	log zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	return &NoopNotifier{log: logger.With().Str("component", "noop_notifier").Logger()}
}

func (n *NoopNotifier) TaskCreated(ctx context.Context, t *model.Task) error {
	n.log.Debug().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("task created")
	return ctx.Err()
}

func (n *NoopNotifier) TaskFinished(ctx context.Context, t *model.Task) error {
	n.log.Debug().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("task finished")
	return ctx.Err()
}
