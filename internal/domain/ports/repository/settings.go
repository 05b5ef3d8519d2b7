package repository

import (
	"context"

	"omnicoder/internal/domain/model"
)

type SettingsRepository interface {
	// Get returns defaults when nothing has been saved yet.
	Get(ctx context.Context, tx Tx) (*model.Settings, error)
	Save(ctx context.Context, tx Tx, s *model.Settings) error
}
