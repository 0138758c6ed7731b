package protocol

import "github.com/shopspring/decimal"

// --- Core -> station payloads ---

// TaskUpserted announces a production task created or resized by order
// submission or allocation.
type TaskUpserted struct {
	TaskID       int64           `json:"task_id"`
	OrderID      int64           `json:"order_id"`
	MaterialID   int64           `json:"material_id"`
	QtyToProduce decimal.Decimal `json:"qty_to_produce"`
	Status       string          `json:"status"`
}

// TaskChanged reports a start or completion on the shop floor, or the
// removal of a task whose shortage disappeared.
type TaskChanged struct {
	TaskID     int64  `json:"task_id"`
	OrderID    int64  `json:"order_id"`
	MaterialID int64  `json:"material_id"`
	Status     string `json:"status"`
	Removed    bool   `json:"removed,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

// AllocationAvailable tells pickers that stock was reserved for an order line.
type AllocationAvailable struct {
	OrderID     int64           `json:"order_id"`
	OrderItemID int64           `json:"order_item_id"`
	MaterialID  int64           `json:"material_id"`
	Allocated   decimal.Decimal `json:"allocated"`
	Reserved    decimal.Decimal `json:"reserved"`
	ToProduce   decimal.Decimal `json:"to_produce"`
}

type OrderStage struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Actor       string `json:"actor,omitempty"`
}

type ReceiptLine struct {
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
}

type ReceiptPosted struct {
	ReceiptID     int64         `json:"receipt_id"`
	Type          string        `json:"type"`
	OrderID       *int64        `json:"order_id,omitempty"`
	PostedBy      string        `json:"posted_by"`
	AutoAllocated bool          `json:"auto_allocated"`
	Lines         []ReceiptLine `json:"lines"`
}

type StockAdjusted struct {
	MaterialID int64           `json:"material_id"`
	Before     decimal.Decimal `json:"before"`
	After      decimal.Decimal `json:"after"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
	Actor      string          `json:"actor"`
}

// --- Station -> core payloads ---

// ReceiptPost asks the core to post a draft receipt scanned at a station.
type ReceiptPost struct {
	ReceiptID    int64  `json:"receipt_id"`
	PostedBy     string `json:"posted_by"`
	AutoAllocate bool   `json:"auto_allocate"`
}

// TaskAction carries a start or complete pressed on a station terminal.
type TaskAction struct {
	TaskID int64  `json:"task_id"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
}
