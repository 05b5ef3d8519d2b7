package repository

import (
	"context"

	"omnicoder/internal/domain/model"
)

type FileSnapshotRepository interface {
	GetAll(ctx context.Context, tx Tx) (map[string]string, error)
	// Apply merges edits atomically; deletes remove paths.
	Apply(ctx context.Context, edits []model.FileEdit) error
	ReplaceAll(ctx context.Context, tx Tx, files map[string]string) error
}
