package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

var _ repository.TaskRepository = (*TaskRepo)(nil)

// TaskRepo keeps each task as a JSONB document with its status, priority and creation time
// denormalised into columns for filtering and ordering.
type TaskRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewTaskRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *TaskRepo {
	return &TaskRepo{pool: pool, tm: tm}
}

func (r *TaskRepo) Create(ctx context.Context, tx repository.Tx, t *model.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	const q = `
INSERT INTO tasks (id, status, priority, created_at, body)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, t.ID, string(t.Status), string(t.Priority), t.CreatedAt, body)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (r *TaskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Task, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT body FROM tasks WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *TaskRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Task, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT body FROM tasks ORDER BY created_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update locks the row, applies fn and writes the result back in one transaction.
func (r *TaskRepo) Update(ctx context.Context, id string, fn repository.TaskMutator) (*model.Task, error) {
	var updated *model.Task
	err := r.tm.WithTx(ctx, pgxTxOptions, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx, `SELECT body FROM tasks WHERE id = $1 FOR UPDATE;`, id)
		if err != nil {
			return err
		}
		t, err := scanTask(row)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		if err := r.write(ctx, tx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *TaskRepo) write(ctx context.Context, tx repository.Tx, t *model.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	const q = `UPDATE tasks SET status = $2, priority = $3, body = $4 WHERE id = $1;`
	if _, err := execSQL(ctx, r.pool, tx, q, t.ID, string(t.Status), string(t.Priority), body); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *TaskRepo) ReplaceAll(ctx context.Context, tx repository.Tx, tasks []*model.Task) error {
	return inTx(ctx, r.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM tasks;`); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		for _, t := range tasks {
			if err := r.Create(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, scanErr(err)
	}
	var t model.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
