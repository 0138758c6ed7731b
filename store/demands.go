package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ShortageInputs are the figures that decide how much on-hand stock is
// left for a new order once earlier orders' unmet demand is served.
type ShortageInputs struct {
	MaterialID int64
	OnHand     decimal.Decimal
	// OthersRequested is the quantity requested by other active orders.
	OthersRequested decimal.Decimal
	// OthersRouted is the part of that demand already sent to production
	// and not yet finished.
	OthersRouted decimal.Decimal
}

const shortageInputsQuery = `SELECT
	COALESCE((SELECT b.on_hand FROM stock_balances b WHERE b.material_id = ?), 0),
	COALESCE((SELECT SUM(i.quantity) FROM order_items i JOIN orders o ON o.id = i.order_id
	          WHERE i.material_id = ? AND i.order_id <> ?
	            AND o.status IN ('OPEN', 'IN_PICKING') AND o.trashed_at IS NULL), 0),
	COALESCE((SELECT SUM(t.qty_to_produce) FROM production_tasks t JOIN orders o ON o.id = t.order_id
	          WHERE t.material_id = ? AND t.order_id <> ? AND t.status <> 'DONE'
	            AND o.status IN ('OPEN', 'IN_PICKING') AND o.trashed_at IS NULL), 0)`

// ShortageInputs reads the inputs for materialID as seen by orderID. The
// caller should hold the material lock.
func (q *Queries) ShortageInputs(ctx context.Context, materialID, orderID int64) (*ShortageInputs, error) {
	in := &ShortageInputs{MaterialID: materialID}
	err := q.queryRow(ctx, shortageInputsQuery, materialID, materialID, orderID, materialID, orderID).
		Scan(scanQty(&in.OnHand), scanQty(&in.OthersRequested), scanQty(&in.OthersRouted))
	if err != nil {
		return nil, fmt.Errorf("shortage inputs for material %d: %w", materialID, err)
	}
	return in, nil
}
