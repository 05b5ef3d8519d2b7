package repository

import (
	"context"

	"omnicoder/internal/domain/model"
)

// TaskMutator edits a task in place during an atomic update. Returning an error aborts the write.
type TaskMutator func(t *model.Task) error

type TaskRepository interface {
	Create(ctx context.Context, tx Tx, task *model.Task) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Task, error)
	List(ctx context.Context, tx Tx) ([]*model.Task, error)
	// Update is a read-modify-write on a single task, safe under concurrent callers.
	Update(ctx context.Context, id string, fn TaskMutator) (*model.Task, error)
	ReplaceAll(ctx context.Context, tx Tx, tasks []*model.Task) error
}
