package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReceiptDraft  = "DRAFT"
	ReceiptPosted = "POSTED"

	ReceiptPurchase   = "PURCHASE"
	ReceiptProduction = "PRODUCTION"
	ReceiptAdjustment = "ADJUSTMENT"
)

type InventoryReceipt struct {
	ID            int64          `json:"id"`
	Status        string         `json:"status"`
	Type          string         `json:"type"`
	SourceRef     string         `json:"source_ref"`
	OrderID       *int64         `json:"order_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	PostedAt      *time.Time     `json:"posted_at,omitempty"`
	PostedBy      string         `json:"posted_by,omitempty"`
	AutoAllocated bool           `json:"auto_allocated"`
	Items         []*ReceiptItem `json:"items"`
}

type ReceiptItem struct {
	ID         int64           `json:"id"`
	ReceiptID  int64           `json:"receipt_id"`
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
}

const receiptSelectCols = `id, status, type, source_ref, order_id, created_at, posted_at, posted_by, auto_allocated`

func scanReceipt(row interface{ Scan(...any) error }) (*InventoryReceipt, error) {
	var r InventoryReceipt
	var orderID sql.NullInt64
	var createdAt, postedAt any
	var autoAllocated any
	err := row.Scan(&r.ID, &r.Status, &r.Type, &r.SourceRef, &orderID, &createdAt, &postedAt, &r.PostedBy, &autoAllocated)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		r.OrderID = &orderID.Int64
	}
	r.CreatedAt = parseTime(createdAt)
	r.PostedAt = parseTimePtr(postedAt)
	r.AutoAllocated = parseBool(autoAllocated)
	return &r, nil
}

// parseBool accepts SQLite integers and Postgres booleans.
func parseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		return b == "1" || b == "true" || b == "t"
	}
	return false
}

func (q *Queries) boolArg(b bool) any {
	if q.driver == "postgres" {
		return b
	}
	if b {
		return 1
	}
	return 0
}

// CreateReceipt inserts a DRAFT receipt with its lines.
func (q *Queries) CreateReceipt(ctx context.Context, r *InventoryReceipt) error {
	var orderID any
	if r.OrderID != nil {
		orderID = *r.OrderID
	}
	r.Status = ReceiptDraft
	id, err := q.insertID(ctx, `INSERT INTO inventory_receipts (status, type, source_ref, order_id) VALUES (?, ?, ?, ?)`,
		r.Status, r.Type, r.SourceRef, orderID)
	if err != nil {
		return fmt.Errorf("create receipt: %w", err)
	}
	r.ID = id
	for _, it := range r.Items {
		it.ReceiptID = id
		itemID, err := q.insertID(ctx, `INSERT INTO inventory_receipt_items (receipt_id, material_id, qty) VALUES (?, ?, ?)`,
			id, it.MaterialID, it.Qty)
		if err != nil {
			return fmt.Errorf("create receipt item: %w", err)
		}
		it.ID = itemID
	}
	return nil
}

func (q *Queries) GetReceipt(ctx context.Context, id int64) (*InventoryReceipt, error) {
	return q.getReceipt(ctx, id, "")
}

// GetReceiptForUpdate locks the receipt row so concurrent posts serialise.
func (q *Queries) GetReceiptForUpdate(ctx context.Context, id int64) (*InventoryReceipt, error) {
	return q.getReceipt(ctx, id, q.dialect.ForUpdate())
}

func (q *Queries) getReceipt(ctx context.Context, id int64, suffix string) (*InventoryReceipt, error) {
	row := q.queryRow(ctx, fmt.Sprintf(`SELECT %s FROM inventory_receipts WHERE id=?`, receiptSelectCols)+suffix, id)
	r, err := scanReceipt(row)
	if err != nil {
		return nil, notFound(err, "receipt", id)
	}
	if r.Items, err = q.listReceiptItems(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (q *Queries) listReceiptItems(ctx context.Context, receiptID int64) ([]*ReceiptItem, error) {
	rows, err := q.query(ctx, `SELECT id, receipt_id, material_id, qty FROM inventory_receipt_items WHERE receipt_id=? ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReceiptItem
	for rows.Next() {
		var it ReceiptItem
		if err := rows.Scan(&it.ID, &it.ReceiptID, &it.MaterialID, scanQty(&it.Qty)); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// MarkReceiptPosted flips a receipt to POSTED.
func (q *Queries) MarkReceiptPosted(ctx context.Context, id int64, postedBy string, autoAllocated bool, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE inventory_receipts SET status=?, posted_at=?, posted_by=?, auto_allocated=? WHERE id=?`,
		ReceiptPosted, q.dialect.TimeArg(at), postedBy, q.boolArg(autoAllocated), id)
	if err != nil {
		return fmt.Errorf("mark receipt %d posted: %w", id, err)
	}
	return nil
}

func (q *Queries) ListReceipts(ctx context.Context, status string, limit int) ([]*InventoryReceipt, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_receipts WHERE status=? ORDER BY id DESC LIMIT ?`, receiptSelectCols), status, limit)
	} else {
		rows, err = q.query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_receipts ORDER BY id DESC LIMIT ?`, receiptSelectCols), limit)
	}
	if err != nil {
		return nil, err
	}
	var receipts []*InventoryReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		receipts = append(receipts, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.Items, err = q.listReceiptItems(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}
