package telegram

import (
	"context"
	"errors"
	"fmt"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
)

const (
	cbApprove = "task:approve:"
	cbSkip    = "task:skip:"
	cbCancel  = "task:cancel:"
	cbRetry   = "task:retry:"
)

// cbHandler runs a button action for one task id and returns the reply text.
type cbHandler func(ctx context.Context, id string) (string, error)

type prefixCB struct {
	Prefix string
	Fn     cbHandler
}

func (b *Bot) cbPrefixRoutes() []prefixCB {
	return []prefixCB{
		{Prefix: cbApprove, Fn: b.approveCBRoute},
		{Prefix: cbSkip, Fn: b.skipCBRoute},
		{Prefix: cbCancel, Fn: b.cancelCBRoute},
		{Prefix: cbRetry, Fn: b.retryCBRoute},
	}
}

func (b *Bot) approveCBRoute(ctx context.Context, id string) (string, error) {
	return b.taskAction(ctx, id, "approved", b.ctrl.Approve)
}

func (b *Bot) skipCBRoute(ctx context.Context, id string) (string, error) {
	return b.taskAction(ctx, id, "skipped", b.ctrl.Skip)
}

func (b *Bot) cancelCBRoute(ctx context.Context, id string) (string, error) {
	return b.taskAction(ctx, id, "cancelled", b.ctrl.Cancel)
}

func (b *Bot) retryCBRoute(ctx context.Context, id string) (string, error) {
	return b.taskAction(ctx, id, "re-queued", b.ctrl.Requeue)
}

func (b *Bot) taskAction(ctx context.Context, id, verb string, fn func(ctx context.Context, id string) (*model.Task, error)) (string, error) {
	if id == "" {
		return "Missing task id.", domain.ErrInvalidArgument
	}
	t, err := fn(ctx, id)
	if err != nil {
		b.log.Info().Err(err).Str("task_id", id).Str("action", verb).Msg("task action rejected")
		return actionError(id, err), err
	}
	return fmt.Sprintf("Task %s %s (now %s).", t.ID, verb, t.Status), nil
}

func actionError(id string, err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("Task %s not found.", id)
	case errors.Is(err, domain.ErrTaskRunning):
		return fmt.Sprintf("Task %s is running. Cancel it instead.", id)
	case errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Sprintf("Task %s can no longer be changed.", id)
	default:
		return fmt.Sprintf("Action on task %s failed.", id)
	}
}
