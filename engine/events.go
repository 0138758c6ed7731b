package engine

import "github.com/shopspring/decimal"

const (
	EventTaskUpserted EventType = iota + 1
	EventTaskChanged
	EventTaskRemoved
	EventAllocated
	EventOrderSubmitted
	EventOrderStageChanged
	EventOrderTrashed
	EventReceiptPosted
	EventStockAdjusted
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type TaskUpsertedEvent struct {
	TaskID       int64
	OrderID      int64
	MaterialID   int64
	QtyToProduce decimal.Decimal
	Status       string
}

type TaskChangedEvent struct {
	TaskID     int64
	OrderID    int64
	MaterialID int64
	Status     string
	Actor      string
}

type TaskRemovedEvent struct {
	TaskID     int64
	OrderID    int64
	MaterialID int64
}

type AllocatedEvent struct {
	OrderID    int64
	ItemID     int64
	MaterialID int64
	Allocated  decimal.Decimal
	Reserved   decimal.Decimal
	ToProduce  decimal.Decimal
	Actor      string
}

type OrderSubmittedEvent struct {
	OrderID     int64
	OrderNumber string
	Status      string
	Total       decimal.Decimal
	Actor       string
}

type OrderStageChangedEvent struct {
	OrderID     int64
	OrderNumber string
	From        string
	To          string
	Actor       string
}

type OrderTrashedEvent struct {
	OrderID     int64
	OrderNumber string
	Trashed     bool
	Actor       string
}

type ReceiptLine struct {
	MaterialID int64
	Qty        decimal.Decimal
}

type ReceiptPostedEvent struct {
	ReceiptID     int64
	Type          string
	OrderID       *int64
	PostedBy      string
	AutoAllocated bool
	Lines         []ReceiptLine
}

type StockAdjustedEvent struct {
	MaterialID int64
	Before     decimal.Decimal
	After      decimal.Decimal
	Reason     string
	Actor      string
}

type ConnectionEvent struct {
	Detail string
}

// materialsOf lists the materials whose stock figures an event changes.
func materialsOf(evt Event) []int64 {
	switch ev := evt.Payload.(type) {
	case TaskUpsertedEvent:
		return []int64{ev.MaterialID}
	case TaskChangedEvent:
		return []int64{ev.MaterialID}
	case TaskRemovedEvent:
		return []int64{ev.MaterialID}
	case AllocatedEvent:
		return []int64{ev.MaterialID}
	case StockAdjustedEvent:
		return []int64{ev.MaterialID}
	case ReceiptPostedEvent:
		ids := make([]int64, 0, len(ev.Lines))
		for _, l := range ev.Lines {
			ids = append(ids, l.MaterialID)
		}
		return ids
	}
	return nil
}
