package repository

import (
	"context"

	"omnicoder/internal/domain/model"
)

// CostLedgerRepository is append-only outside import/clear.
type CostLedgerRepository interface {
	Append(ctx context.Context, tx Tx, entries ...model.CostEntry) error
	List(ctx context.Context, tx Tx) ([]model.CostEntry, error)
	Total(ctx context.Context, tx Tx) (float64, error)
	ReplaceAll(ctx context.Context, tx Tx, entries []model.CostEntry) error
}
