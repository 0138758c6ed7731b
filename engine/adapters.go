package engine

import (
	"github.com/shopspring/decimal"

	"stockcore/store"
)

// taskEmitter bridges the production tracker's emitter interface to the EventBus.
type taskEmitter struct {
	bus *EventBus
}

func (e *taskEmitter) EmitTaskUpserted(taskID, orderID, materialID int64, qty decimal.Decimal, status string) {
	e.bus.Emit(Event{Type: EventTaskUpserted, Payload: TaskUpsertedEvent{
		TaskID:       taskID,
		OrderID:      orderID,
		MaterialID:   materialID,
		QtyToProduce: qty,
		Status:       status,
	}})
}

func (e *taskEmitter) EmitTaskChanged(taskID, orderID, materialID int64, status, actor string) {
	e.bus.Emit(Event{Type: EventTaskChanged, Payload: TaskChangedEvent{
		TaskID:     taskID,
		OrderID:    orderID,
		MaterialID: materialID,
		Status:     status,
		Actor:      actor,
	}})
}

func (e *taskEmitter) EmitTaskRemoved(taskID, orderID, materialID int64) {
	e.bus.Emit(Event{Type: EventTaskRemoved, Payload: TaskRemovedEvent{
		TaskID:     taskID,
		OrderID:    orderID,
		MaterialID: materialID,
	}})
}

// allocationEmitter bridges allocation passes to the EventBus.
type allocationEmitter struct {
	bus *EventBus
}

func (e *allocationEmitter) EmitAllocated(orderID, itemID, materialID int64, allocated, reserved, toProduce decimal.Decimal, actor string) {
	e.bus.Emit(Event{Type: EventAllocated, Payload: AllocatedEvent{
		OrderID:    orderID,
		ItemID:     itemID,
		MaterialID: materialID,
		Allocated:  allocated,
		Reserved:   reserved,
		ToProduce:  toProduce,
		Actor:      actor,
	}})
}

// receiptEmitter bridges the receipt poster to the EventBus.
type receiptEmitter struct {
	bus *EventBus
}

func (e *receiptEmitter) EmitReceiptPosted(r *store.InventoryReceipt) {
	ev := ReceiptPostedEvent{
		ReceiptID:     r.ID,
		Type:          r.Type,
		OrderID:       r.OrderID,
		PostedBy:      r.PostedBy,
		AutoAllocated: r.AutoAllocated,
	}
	for _, it := range r.Items {
		ev.Lines = append(ev.Lines, ReceiptLine{MaterialID: it.MaterialID, Qty: it.Qty})
	}
	e.bus.Emit(Event{Type: EventReceiptPosted, Payload: ev})
}

// orderEmitter bridges the order processor to the EventBus.
type orderEmitter struct {
	bus *EventBus
}

func (e *orderEmitter) EmitOrderSubmitted(orderID int64, orderNumber, status string, total decimal.Decimal, actor string) {
	e.bus.Emit(Event{Type: EventOrderSubmitted, Payload: OrderSubmittedEvent{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Status:      status,
		Total:       total,
		Actor:       actor,
	}})
}

func (e *orderEmitter) EmitOrderStageChanged(orderID int64, orderNumber, from, to, actor string) {
	e.bus.Emit(Event{Type: EventOrderStageChanged, Payload: OrderStageChangedEvent{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		From:        from,
		To:          to,
		Actor:       actor,
	}})
}

func (e *orderEmitter) EmitOrderTrashed(orderID int64, orderNumber string, trashed bool, actor string) {
	e.bus.Emit(Event{Type: EventOrderTrashed, Payload: OrderTrashedEvent{
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Trashed:     trashed,
		Actor:       actor,
	}})
}

func (e *orderEmitter) EmitStockAdjusted(materialID int64, before, after decimal.Decimal, reason, actor string) {
	e.bus.Emit(Event{Type: EventStockAdjusted, Payload: StockAdjustedEvent{
		MaterialID: materialID,
		Before:     before,
		After:      after,
		Reason:     reason,
		Actor:      actor,
	}})
}
