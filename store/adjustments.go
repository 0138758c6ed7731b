package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StockAdjustment records one manual overwrite of a material's on-hand
// quantity.
type StockAdjustment struct {
	ID         int64           `json:"id"`
	MaterialID int64           `json:"material_id"`
	Before     decimal.Decimal `json:"before"`
	After      decimal.Decimal `json:"after"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
	Actor      string          `json:"actor"`
	CreatedAt  time.Time       `json:"created_at"`
}

const adjustmentSelectCols = `id, material_id, before_qty, after_qty, delta, reason, actor, created_at`

func (q *Queries) CreateStockAdjustment(ctx context.Context, a *StockAdjustment) error {
	id, err := q.insertID(ctx, `INSERT INTO stock_adjustments (material_id, before_qty, after_qty, delta, reason, actor) VALUES (?, ?, ?, ?, ?, ?)`,
		a.MaterialID, a.Before, a.After, a.Delta, a.Reason, a.Actor)
	if err != nil {
		return fmt.Errorf("create stock adjustment: %w", err)
	}
	a.ID = id
	return nil
}

// ListStockAdjustments returns the newest adjustments first. A zero
// materialID lists all materials.
func (q *Queries) ListStockAdjustments(ctx context.Context, materialID int64, limit int) ([]*StockAdjustment, error) {
	var rows *sql.Rows
	var err error
	if materialID != 0 {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM stock_adjustments WHERE material_id=? ORDER BY id DESC LIMIT ?`, adjustmentSelectCols), materialID, limit)
	} else {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM stock_adjustments ORDER BY id DESC LIMIT ?`, adjustmentSelectCols), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []*StockAdjustment
	for rows.Next() {
		var a StockAdjustment
		var createdAt any
		if err := rows.Scan(&a.ID, &a.MaterialID, scanQty(&a.Before), scanQty(&a.After), scanQty(&a.Delta), &a.Reason, &a.Actor, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		adjustments = append(adjustments, &a)
	}
	return adjustments, rows.Err()
}
