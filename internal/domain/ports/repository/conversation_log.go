package repository

import (
	"context"
	"time"

	"omnicoder/internal/domain/model"
)

type ConversationLogRepository interface {
	Append(ctx context.Context, tx Tx, l *model.ConversationLog) error
	List(ctx context.Context, tx Tx) ([]*model.ConversationLog, error)
	UpdateStatusByTask(ctx context.Context, taskID string, status model.LogStatus, cost *float64) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ReplaceAll(ctx context.Context, tx Tx, logs []*model.ConversationLog) error
}
