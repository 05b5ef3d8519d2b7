package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

var _ repository.SettingsRepository = (*SettingsRepo)(nil)

type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// Get decodes the stored document over the defaults so fields added later keep a sane value.
func (r *SettingsRepo) Get(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
	s := model.DefaultSettings()
	row, err := pickRow(ctx, r.pool, tx, `SELECT body FROM settings WHERE id = 1;`)
	if err != nil {
		return nil, err
	}
	var body []byte
	if err := row.Scan(&body); err != nil {
		if err = scanErr(err); errors.Is(err, domain.ErrNotFound) {
			return &s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepo) Save(ctx context.Context, tx repository.Tx, s *model.Settings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	const q = `
INSERT INTO settings (id, body, updated_at) VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, body); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
