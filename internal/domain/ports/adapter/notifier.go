package adapter

import (
	"context"

	"omnicoder/internal/domain/model"
)

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// Notifier tells an operator about task lifecycle events.
type Notifier interface {
	TaskCreated(ctx context.Context, task *model.Task) error
	TaskFinished(ctx context.Context, task *model.Task) error
}
