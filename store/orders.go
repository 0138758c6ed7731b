package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderDraft     = "DRAFT"
	OrderOpen      = "OPEN"
	OrderInPicking = "IN_PICKING"
	OrderDone      = "DONE"
	OrderCancelled = "CANCELLED"

	ShortageProduce = "PRODUCE"
	ShortageBuy     = "BUY"
)

type Order struct {
	ID                int64           `json:"id"`
	OrderNumber       string          `json:"order_number"`
	Status            string          `json:"status"`
	Total             decimal.Decimal `json:"total"`
	CreatedBy         string          `json:"created_by"`
	StatusBeforeTrash string          `json:"status_before_trash,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	TrashedAt         *time.Time      `json:"trashed_at,omitempty"`
	Items             []*OrderItem    `json:"items"`
}

// Active reports whether the order still competes for stock.
func (o *Order) Active() bool {
	return o.TrashedAt == nil && (o.Status == OrderOpen || o.Status == OrderInPicking)
}

type OrderItem struct {
	ID                   int64           `json:"id"`
	OrderID              int64           `json:"order_id"`
	MaterialID           int64           `json:"material_id"`
	Quantity             decimal.Decimal `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	QtyReservedFromStock decimal.Decimal `json:"qty_reserved_from_stock"`
	QtyToProduce         decimal.Decimal `json:"qty_to_produce"`
	ShortageAction       string          `json:"shortage_action"`
}

// Needed is the part of the line not yet covered by stock.
func (i *OrderItem) Needed() decimal.Decimal {
	return decimal.Max(decimal.Zero, i.Quantity.Sub(i.QtyReservedFromStock))
}

const orderSelectCols = `id, order_number, status, total, created_by, status_before_trash, created_at, updated_at, trashed_at`
const orderItemSelectCols = `i.id, i.order_id, i.material_id, i.quantity, i.unit_price, i.qty_reserved_from_stock, i.qty_to_produce, i.shortage_action`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var createdAt, updatedAt, trashedAt any
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, scanQty(&o.Total), &o.CreatedBy, &o.StatusBeforeTrash,
		&createdAt, &updatedAt, &trashedAt)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	o.TrashedAt = parseTimePtr(trashedAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrderItem(row interface{ Scan(...any) error }) (*OrderItem, error) {
	var i OrderItem
	err := row.Scan(&i.ID, &i.OrderID, &i.MaterialID, scanQty(&i.Quantity), scanQty(&i.UnitPrice),
		scanQty(&i.QtyReservedFromStock), scanQty(&i.QtyToProduce), &i.ShortageAction)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func scanOrderItems(rows *sql.Rows) ([]*OrderItem, error) {
	var items []*OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// NextOrderNumber bumps the counter for day (YYYYMMDD) and formats the
// resulting order number.
func (q *Queries) NextOrderNumber(ctx context.Context, day string) (string, error) {
	var seq int
	err := q.queryRow(ctx, `INSERT INTO order_sequences (day, last_seq) VALUES (?, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = order_sequences.last_seq + 1
		RETURNING last_seq`, day).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next order number for %s: %w", day, err)
	}
	return fmt.Sprintf("%s%02d", day, seq), nil
}

// CreateOrder inserts the order and its items, assigning IDs in place.
func (q *Queries) CreateOrder(ctx context.Context, o *Order) error {
	id, err := q.insertID(ctx, `INSERT INTO orders (order_number, status, total, created_by) VALUES (?, ?, ?, ?)`,
		o.OrderNumber, o.Status, o.Total, o.CreatedBy)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.ID = id
	for _, it := range o.Items {
		it.OrderID = id
		itemID, err := q.insertID(ctx, `INSERT INTO order_items (order_id, material_id, quantity, unit_price, qty_reserved_from_stock, qty_to_produce, shortage_action) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, it.MaterialID, it.Quantity, it.UnitPrice, it.QtyReservedFromStock, it.QtyToProduce, it.ShortageAction)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
		it.ID = itemID
	}
	return nil
}

// GetOrder loads an order with its items.
func (q *Queries) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return q.getOrder(ctx, id, "")
}

// GetOrderForUpdate is GetOrder with the order row locked.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	return q.getOrder(ctx, id, q.dialect.ForUpdate())
}

func (q *Queries) getOrder(ctx context.Context, id int64, suffix string) (*Order, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM orders WHERE id=?`, orderSelectCols)+suffix, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	if o.Items, err = q.ListOrderItems(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (q *Queries) ListOrderItems(ctx context.Context, orderID int64) ([]*OrderItem, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`SELECT %s FROM order_items i WHERE i.order_id=? ORDER BY i.id`, orderItemSelectCols), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderItems(rows)
}

// ListOrders returns orders newest first with their items. An empty status
// lists every status; trashed orders are only included when asked for.
func (q *Queries) ListOrders(ctx context.Context, status string, includeTrashed bool, limit int) ([]*Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE 1=1`, orderSelectCols)
	var args []any
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	if !includeTrashed {
		query += ` AND trashed_at IS NULL`
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := scanOrders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Items, err = q.ListOrderItems(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	_, err := q.exec(ctx, `UPDATE orders SET status=?, updated_at=datetime('now','localtime') WHERE id=?`, status, id)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", id, err)
	}
	return nil
}

// TrashOrder cancels the order, remembering prevStatus for UntrashOrder.
func (q *Queries) TrashOrder(ctx context.Context, id int64, prevStatus string, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE orders SET status=?, status_before_trash=?, trashed_at=?, updated_at=datetime('now','localtime') WHERE id=?`,
		OrderCancelled, prevStatus, q.dialect.TimeArg(at), id)
	if err != nil {
		return fmt.Errorf("trash order %d: %w", id, err)
	}
	return nil
}

func (q *Queries) UntrashOrder(ctx context.Context, id int64, status string) error {
	_, err := q.exec(ctx, `UPDATE orders SET status=?, status_before_trash='', trashed_at=NULL, updated_at=datetime('now','localtime') WHERE id=?`,
		status, id)
	if err != nil {
		return fmt.Errorf("untrash order %d: %w", id, err)
	}
	return nil
}

// SetItemAllocation persists the stock/production split of one line.
func (q *Queries) SetItemAllocation(ctx context.Context, itemID int64, reserved, toProduce decimal.Decimal) error {
	_, err := q.exec(ctx, `UPDATE order_items SET qty_reserved_from_stock=?, qty_to_produce=? WHERE id=?`,
		reserved, toProduce, itemID)
	if err != nil {
		return fmt.Errorf("update order item %d: %w", itemID, err)
	}
	return nil
}

// OpenDemandLines returns lines of active orders for the material that are
// not fully reserved, oldest order first.
func (q *Queries) OpenDemandLines(ctx context.Context, materialID int64) ([]*OrderItem, error) {
	rows, err := q.query(ctx, fmt.Sprintf(`SELECT %s FROM order_items i JOIN orders o ON o.id = i.order_id
		WHERE i.material_id=? AND o.status IN ('OPEN', 'IN_PICKING') AND o.trashed_at IS NULL
		  AND i.qty_reserved_from_stock < i.quantity
		ORDER BY o.created_at, o.id, i.id`, orderItemSelectCols)+q.dialect.ForUpdate(), materialID)
	if err != nil {
		return nil, fmt.Errorf("open demand for material %d: %w", materialID, err)
	}
	defer rows.Close()
	return scanOrderItems(rows)
}

// OrderReservedQty sums what the order's lines hold from stock for a material.
func (q *Queries) OrderReservedQty(ctx context.Context, orderID, materialID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := q.queryRow(ctx, `SELECT COALESCE(SUM(qty_reserved_from_stock), 0) FROM order_items WHERE order_id=? AND material_id=?`,
		orderID, materialID).Scan(scanQty(&qty))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum reserved for order %d: %w", orderID, err)
	}
	return qty, nil
}

// ReleaseOrderItems returns every unit the order holds from stock to the
// pool. Production quantities are left as recorded.
func (q *Queries) ReleaseOrderItems(ctx context.Context, orderID int64) error {
	_, err := q.exec(ctx, `UPDATE order_items SET qty_reserved_from_stock=0 WHERE order_id=?`, orderID)
	if err != nil {
		return fmt.Errorf("release items of order %d: %w", orderID, err)
	}
	return nil
}
