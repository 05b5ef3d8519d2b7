package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

var _ repository.ConversationLogRepository = (*ConversationLogRepo)(nil)

type ConversationLogRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewConversationLogRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *ConversationLogRepo {
	return &ConversationLogRepo{pool: pool, tm: tm}
}

func (r *ConversationLogRepo) Append(ctx context.Context, tx repository.Tx, l *model.ConversationLog) error {
	const q = `
INSERT INTO conversation_logs (id, ts, user_message, assistant_response, status, task_id, cost)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err := execSQL(ctx, r.pool, tx, q,
		l.ID, l.Timestamp, l.UserMessage, l.AssistantResponse, string(l.Status), l.TaskID, l.Cost)
	if err != nil {
		return fmt.Errorf("insert conversation log: %w", err)
	}
	return nil
}

func (r *ConversationLogRepo) List(ctx context.Context, tx repository.Tx) ([]*model.ConversationLog, error) {
	const q = `
SELECT id, ts, user_message, assistant_response, status, task_id, cost
  FROM conversation_logs
 ORDER BY ts, id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, fmt.Errorf("list conversation logs: %w", err)
	}
	defer rows.Close()
	var out []*model.ConversationLog
	for rows.Next() {
		var l model.ConversationLog
		var status string
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.UserMessage, &l.AssistantResponse, &status, &l.TaskID, &l.Cost); err != nil {
			return nil, scanErr(err)
		}
		l.Status = model.LogStatus(status)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *ConversationLogRepo) UpdateStatusByTask(ctx context.Context, taskID string, status model.LogStatus, cost *float64) error {
	const q = `
UPDATE conversation_logs
   SET status = $2, cost = COALESCE($3, cost)
 WHERE task_id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q, taskID, string(status), cost)
	if err != nil {
		return fmt.Errorf("update conversation log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, nil, `DELETE FROM conversation_logs WHERE ts < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete conversation logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ConversationLogRepo) ReplaceAll(ctx context.Context, tx repository.Tx, logs []*model.ConversationLog) error {
	return inTx(ctx, r.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM conversation_logs;`); err != nil {
			return fmt.Errorf("clear conversation logs: %w", err)
		}
		for _, l := range logs {
			if err := r.Append(ctx, tx, l); err != nil {
				return err
			}
		}
		return nil
	})
}
