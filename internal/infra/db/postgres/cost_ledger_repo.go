package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
)

var _ repository.CostLedgerRepository = (*CostLedgerRepo)(nil)

type CostLedgerRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewCostLedgerRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *CostLedgerRepo {
	return &CostLedgerRepo{pool: pool, tm: tm}
}

func (r *CostLedgerRepo) Append(ctx context.Context, tx repository.Tx, entries ...model.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return inTx(ctx, r.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		const q = `
INSERT INTO cost_entries (ts, model, input_tokens, output_tokens, cost, task_id)
VALUES ($1, $2, $3, $4, $5, $6);`
		for _, e := range entries {
			if _, err := execSQL(ctx, r.pool, tx, q, e.Timestamp, e.Model, e.InputTokens, e.OutputTokens, e.Cost, e.TaskID); err != nil {
				return fmt.Errorf("insert cost entry: %w", err)
			}
		}
		return nil
	})
}

func (r *CostLedgerRepo) List(ctx context.Context, tx repository.Tx) ([]model.CostEntry, error) {
	const q = `
SELECT ts, model, input_tokens, output_tokens, cost, task_id
  FROM cost_entries
 ORDER BY id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, fmt.Errorf("list cost entries: %w", err)
	}
	defer rows.Close()
	var out []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		if err := rows.Scan(&e.Timestamp, &e.Model, &e.InputTokens, &e.OutputTokens, &e.Cost, &e.TaskID); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *CostLedgerRepo) Total(ctx context.Context, tx repository.Tx) (float64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(cost), 0) FROM cost_entries;`)
	if err != nil {
		return 0, err
	}
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, scanErr(err)
	}
	return total, nil
}

func (r *CostLedgerRepo) ReplaceAll(ctx context.Context, tx repository.Tx, entries []model.CostEntry) error {
	return inTx(ctx, r.tm, tx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM cost_entries;`); err != nil {
			return fmt.Errorf("clear cost entries: %w", err)
		}
		return r.Append(ctx, tx, entries...)
	})
}
