package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

var _ repository.FileSnapshotRepository = (*FileSnapshotRepo)(nil)

type FileSnapshotRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewFileSnapshotRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *FileSnapshotRepo {
	return &FileSnapshotRepo{pool: pool, tm: tm}
}

func (r *FileSnapshotRepo) GetAll(ctx context.Context, tx repository.Tx) (map[string]string, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT path, content FROM file_snapshots;`)
	if err != nil {
		return nil, fmt.Errorf("list file snapshot: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, scanErr(err)
		}
		out[path] = content
	}
	return out, rows.Err()
}

func (r *FileSnapshotRepo) Apply(ctx context.Context, edits []model.FileEdit) error {
	return r.tm.WithTx(ctx, pgxTxOptions, func(ctx context.Context, tx repository.Tx) error {
		for _, e := range edits {
			if err := r.applyOne(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *FileSnapshotRepo) applyOne(ctx context.Context, tx repository.Tx, e model.FileEdit) error {
	if e.Action == model.FileActionDelete {
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM file_snapshots WHERE path = $1;`, e.Path); err != nil {
			return fmt.Errorf("delete %s: %w", e.Path, err)
		}
		return nil
	}
	return r.put(ctx, tx, e.Path, e.Content)
}

func (r *FileSnapshotRepo) put(ctx context.Context, tx repository.Tx, path, content string) error {
	const q = `
INSERT INTO file_snapshots (path, content, updated_at) VALUES ($1, $2, now())
ON CONFLICT (path) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, path, content); err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	return nil
}

func (r *FileSnapshotRepo) ReplaceAll(ctx context.Context, tx repository.Tx, files map[string]string) error {
	return inTx(ctx, r.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM file_snapshots;`); err != nil {
			return fmt.Errorf("clear file snapshot: %w", err)
		}
		for p, c := range files {
			if err := r.put(ctx, tx, p, c); err != nil {
				return err
			}
		}
		return nil
	})
}
