package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StockReservation is the per (order, material) record of units held from
// on-hand stock. ExpiresAt is advisory.
type StockReservation struct {
	OrderID    int64           `json:"order_id"`
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Stale      bool            `json:"stale"`
}

// ProductionReservation is output finished by production and in flight to
// an order.
type ProductionReservation struct {
	OrderID    int64           `json:"order_id"`
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (q *Queries) UpsertStockReservation(ctx context.Context, orderID, materialID int64, qty decimal.Decimal, expiresAt time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO stock_reservations (order_id, material_id, qty, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (order_id, material_id) DO UPDATE SET qty = excluded.qty, expires_at = excluded.expires_at, updated_at = datetime('now','localtime')`,
		orderID, materialID, qty, q.dialect.TimeArg(expiresAt))
	if err != nil {
		return fmt.Errorf("upsert stock reservation order %d material %d: %w", orderID, materialID, err)
	}
	return nil
}

func (q *Queries) DeleteOrderStockReservations(ctx context.Context, orderID int64) error {
	_, err := q.exec(ctx, `DELETE FROM stock_reservations WHERE order_id=?`, orderID)
	if err != nil {
		return fmt.Errorf("delete stock reservations of order %d: %w", orderID, err)
	}
	return nil
}

// ListStockReservations returns the reservations of a material, flagging the
// ones whose TTL has passed at now.
func (q *Queries) ListStockReservations(ctx context.Context, materialID int64, now time.Time) ([]*StockReservation, error) {
	rows, err := q.query(ctx, `SELECT order_id, material_id, qty, expires_at FROM stock_reservations WHERE material_id=? ORDER BY order_id`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StockReservation
	for rows.Next() {
		var r StockReservation
		var expiresAt any
		if err := rows.Scan(&r.OrderID, &r.MaterialID, scanQty(&r.Qty), &expiresAt); err != nil {
			return nil, err
		}
		r.ExpiresAt = parseTime(expiresAt)
		r.Stale = r.ExpiresAt.Before(now)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SumStockReservations totals reservation rows for a material.
func (q *Queries) SumStockReservations(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.queryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_reservations WHERE material_id=?`, materialID).Scan(scanQty(&sum))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum stock reservations for material %d: %w", materialID, err)
	}
	return sum, nil
}

func (q *Queries) UpsertProductionReservation(ctx context.Context, orderID, materialID int64, qty decimal.Decimal) error {
	_, err := q.exec(ctx, `INSERT INTO production_reservations (order_id, material_id, qty) VALUES (?, ?, ?)
		ON CONFLICT (order_id, material_id) DO UPDATE SET qty = excluded.qty`,
		orderID, materialID, qty)
	if err != nil {
		return fmt.Errorf("upsert production reservation order %d material %d: %w", orderID, materialID, err)
	}
	return nil
}

// ClearProductionReservation removes the in-flight record and reports
// whether one existed.
func (q *Queries) ClearProductionReservation(ctx context.Context, orderID, materialID int64) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM production_reservations WHERE order_id=? AND material_id=?`, orderID, materialID)
	if err != nil {
		return false, fmt.Errorf("clear production reservation order %d material %d: %w", orderID, materialID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queries) DeleteOrderProductionReservations(ctx context.Context, orderID int64) error {
	_, err := q.exec(ctx, `DELETE FROM production_reservations WHERE order_id=?`, orderID)
	if err != nil {
		return fmt.Errorf("delete production reservations of order %d: %w", orderID, err)
	}
	return nil
}

func (q *Queries) GetProductionReservation(ctx context.Context, orderID, materialID int64) (*ProductionReservation, error) {
	var r ProductionReservation
	var createdAt any
	err := q.queryRow(ctx, `SELECT order_id, material_id, qty, created_at FROM production_reservations WHERE order_id=? AND material_id=?`,
		orderID, materialID).Scan(&r.OrderID, &r.MaterialID, scanQty(&r.Qty), &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("production reservation order %d material %d: %w", orderID, materialID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}
