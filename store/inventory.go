package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StockBalance is the single on-hand figure for a material.
type StockBalance struct {
	MaterialID int64           `json:"material_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OnHand returns the material's on-hand quantity, zero when no balance row
// exists yet.
func (q *Queries) OnHand(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := q.queryRow(ctx, `SELECT on_hand FROM stock_balances WHERE material_id=?`+q.dialect.ForUpdate(), materialID).Scan(scanQty(&onHand))
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read on hand for material %d: %w", materialID, err)
	}
	return onHand, nil
}

// CreditStock adds qty to the balance, creating the row if absent, and
// returns the new on-hand figure.
func (q *Queries) CreditStock(ctx context.Context, materialID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := q.queryRow(ctx, `INSERT INTO stock_balances (material_id, on_hand) VALUES (?, ?)
		ON CONFLICT (material_id) DO UPDATE SET on_hand = stock_balances.on_hand + excluded.on_hand, updated_at = datetime('now','localtime')
		RETURNING on_hand`, materialID, qty).Scan(scanQty(&onHand))
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit stock for material %d: %w", materialID, err)
	}
	return onHand, nil
}

// SetOnHand overwrites the balance, creating the row if absent.
func (q *Queries) SetOnHand(ctx context.Context, materialID int64, onHand decimal.Decimal) error {
	_, err := q.exec(ctx, `INSERT INTO stock_balances (material_id, on_hand) VALUES (?, ?)
		ON CONFLICT (material_id) DO UPDATE SET on_hand = excluded.on_hand, updated_at = datetime('now','localtime')`,
		materialID, onHand)
	if err != nil {
		return fmt.Errorf("set on hand for material %d: %w", materialID, err)
	}
	return nil
}

// StockPosition summarises one material for the read side.
type StockPosition struct {
	MaterialID     int64           `json:"material_id"`
	SKU            string          `json:"sku"`
	OnHand         decimal.Decimal `json:"on_hand"`
	Reserved       decimal.Decimal `json:"reserved"`
	ToProduce      decimal.Decimal `json:"to_produce"`
	Free           decimal.Decimal `json:"free"`
	ReorderPoint   decimal.Decimal `json:"reorder_point"`
	BelowReorder   bool            `json:"below_reorder"`
	StaleReserved  decimal.Decimal `json:"stale_reserved"`
	HasReservation bool            `json:"has_reservation"`
}

// StockPosition computes on-hand, committed and free quantities for a
// material. Reservations past their expiry are reported as stale; they stay
// committed until the next allocation pass.
func (q *Queries) StockPosition(ctx context.Context, materialID int64, now time.Time) (*StockPosition, error) {
	m, err := q.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	pos := &StockPosition{MaterialID: m.ID, SKU: m.SKU, ReorderPoint: m.ReorderPoint}
	if pos.OnHand, err = q.OnHand(ctx, materialID); err != nil {
		return nil, err
	}
	if pos.Reserved, err = q.ActiveReservedFromStock(ctx, materialID); err != nil {
		return nil, err
	}
	err = q.queryRow(ctx, `SELECT COALESCE(SUM(t.qty_to_produce), 0) FROM production_tasks t
		WHERE t.material_id=? AND t.status <> 'DONE'`, materialID).Scan(scanQty(&pos.ToProduce))
	if err != nil {
		return nil, fmt.Errorf("sum open production for material %d: %w", materialID, err)
	}
	var count int
	err = q.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at < ? THEN qty ELSE 0 END), 0)
		FROM stock_reservations WHERE material_id=?`, q.dialect.TimeArg(now), materialID).Scan(&count, scanQty(&pos.StaleReserved))
	if err != nil {
		return nil, fmt.Errorf("sum reservations for material %d: %w", materialID, err)
	}
	pos.HasReservation = count > 0
	pos.Free = decimal.Max(decimal.Zero, pos.OnHand.Sub(pos.Reserved))
	pos.BelowReorder = pos.OnHand.LessThanOrEqual(pos.ReorderPoint) && pos.ReorderPoint.IsPositive()
	return pos, nil
}

// ActiveReservedFromStock sums qty_reserved_from_stock over lines of orders
// that still hold their units. DONE orders keep theirs: nothing debits
// on_hand when goods leave.
func (q *Queries) ActiveReservedFromStock(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := q.queryRow(ctx, `SELECT COALESCE(SUM(i.qty_reserved_from_stock), 0)
		FROM order_items i JOIN orders o ON o.id = i.order_id
		WHERE i.material_id=? AND o.status <> 'CANCELLED' AND o.trashed_at IS NULL`, materialID).Scan(scanQty(&reserved))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum reserved for material %d: %w", materialID, err)
	}
	return reserved, nil
}
