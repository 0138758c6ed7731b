package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"stockcore/protocol"
)

// sinkTimeout bounds the database work a subscriber may do per event.
const sinkTimeout = 5 * time.Second

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func (e *Engine) wireEventHandlers() {
	// Metrics see everything
	e.Events.Subscribe(e.metrics.observe)

	// Audit trail
	e.Events.SubscribeTypes(e.audit,
		EventTaskChanged, EventTaskRemoved, EventOrderSubmitted, EventOrderStageChanged,
		EventOrderTrashed, EventReceiptPosted, EventStockAdjusted, EventAllocated)

	// Station notifications go through the outbox
	e.Events.SubscribeTypes(e.notify,
		EventTaskUpserted, EventTaskChanged, EventTaskRemoved, EventAllocated,
		EventOrderSubmitted, EventOrderStageChanged, EventReceiptPosted, EventStockAdjusted)

	// Read-side cache
	if e.cache != nil {
		e.Events.SubscribeTypes(e.invalidate,
			EventTaskUpserted, EventTaskChanged, EventTaskRemoved, EventAllocated,
			EventOrderSubmitted, EventOrderStageChanged, EventOrderTrashed,
			EventReceiptPosted, EventStockAdjusted)
	}

	// Connection changes only need a log line
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.log.Info().Str("detail", ev.Detail).Msg("messaging state changed")
	}, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) audit(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	var err error
	switch ev := evt.Payload.(type) {
	case TaskChangedEvent:
		err = e.db.AppendAudit(ctx, "task", ev.TaskID, "status", "", ev.Status, actorOr(ev.Actor))
	case TaskRemovedEvent:
		err = e.db.AppendAudit(ctx, "task", ev.TaskID, "removed", "", fmt.Sprintf("order=%d material=%d", ev.OrderID, ev.MaterialID), "system")
	case AllocatedEvent:
		err = e.db.AppendAudit(ctx, "order", ev.OrderID, "allocated", "",
			fmt.Sprintf("item=%d material=%d qty=%s reserved=%s to_produce=%s", ev.ItemID, ev.MaterialID, ev.Allocated, ev.Reserved, ev.ToProduce),
			actorOr(ev.Actor))
	case OrderSubmittedEvent:
		err = e.db.AppendAudit(ctx, "order", ev.OrderID, "submitted", "", fmt.Sprintf("%s %s total=%s", ev.OrderNumber, ev.Status, ev.Total), actorOr(ev.Actor))
	case OrderStageChangedEvent:
		err = e.db.AppendAudit(ctx, "order", ev.OrderID, "status", ev.From, ev.To, actorOr(ev.Actor))
	case OrderTrashedEvent:
		action := "trashed"
		if !ev.Trashed {
			action = "untrashed"
		}
		err = e.db.AppendAudit(ctx, "order", ev.OrderID, action, "", ev.OrderNumber, actorOr(ev.Actor))
	case ReceiptPostedEvent:
		err = e.db.AppendAudit(ctx, "receipt", ev.ReceiptID, "posted", "DRAFT", fmt.Sprintf("POSTED lines=%d auto_allocate=%t", len(ev.Lines), ev.AutoAllocated), actorOr(ev.PostedBy))
	case StockAdjustedEvent:
		err = e.db.AppendAudit(ctx, "material", ev.MaterialID, "adjusted", ev.Before.String(), ev.After.String(), actorOr(ev.Actor))
	}
	if err != nil {
		e.log.Error().Err(err).Stringer("event", evt.Type).Msg("append audit")
	}
}

func actorOr(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

// notification maps a bus event to its wire message.
func notification(evt Event) (string, any) {
	switch ev := evt.Payload.(type) {
	case TaskUpsertedEvent:
		return protocol.TypeTaskUpserted, &protocol.TaskUpserted{
			TaskID: ev.TaskID, OrderID: ev.OrderID, MaterialID: ev.MaterialID,
			QtyToProduce: ev.QtyToProduce, Status: ev.Status,
		}
	case TaskChangedEvent:
		return protocol.TypeTaskChanged, &protocol.TaskChanged{
			TaskID: ev.TaskID, OrderID: ev.OrderID, MaterialID: ev.MaterialID,
			Status: ev.Status, Actor: ev.Actor,
		}
	case TaskRemovedEvent:
		return protocol.TypeTaskChanged, &protocol.TaskChanged{
			TaskID: ev.TaskID, OrderID: ev.OrderID, MaterialID: ev.MaterialID, Removed: true,
		}
	case AllocatedEvent:
		return protocol.TypeAllocationAvailable, &protocol.AllocationAvailable{
			OrderID: ev.OrderID, OrderItemID: ev.ItemID, MaterialID: ev.MaterialID,
			Allocated: ev.Allocated, Reserved: ev.Reserved, ToProduce: ev.ToProduce,
		}
	case OrderSubmittedEvent:
		return protocol.TypeOrderStage, &protocol.OrderStage{
			OrderID: ev.OrderID, OrderNumber: ev.OrderNumber, To: ev.Status, Actor: ev.Actor,
		}
	case OrderStageChangedEvent:
		return protocol.TypeOrderStage, &protocol.OrderStage{
			OrderID: ev.OrderID, OrderNumber: ev.OrderNumber, From: ev.From, To: ev.To, Actor: ev.Actor,
		}
	case ReceiptPostedEvent:
		p := &protocol.ReceiptPosted{
			ReceiptID: ev.ReceiptID, Type: ev.Type, OrderID: ev.OrderID,
			PostedBy: ev.PostedBy, AutoAllocated: ev.AutoAllocated,
		}
		for _, l := range ev.Lines {
			p.Lines = append(p.Lines, protocol.ReceiptLine{MaterialID: l.MaterialID, Qty: l.Qty})
		}
		return protocol.TypeReceiptPosted, p
	case StockAdjustedEvent:
		return protocol.TypeStockAdjusted, &protocol.StockAdjusted{
			MaterialID: ev.MaterialID, Before: ev.Before, After: ev.After,
			Delta: ev.After.Sub(ev.Before), Reason: ev.Reason, Actor: ev.Actor,
		}
	}
	return "", nil
}

func (e *Engine) notify(evt Event) {
	topic := e.cfg.Messaging.NotifyTopic
	if topic == "" {
		return
	}
	msgType, payload := notification(evt)
	if payload == nil {
		return
	}
	src := protocol.Address{Role: protocol.RoleCore, Station: e.cfg.Messaging.StationID}
	dst := protocol.Address{Role: protocol.RoleStation, Station: protocol.Broadcast}
	env, err := protocol.NewEnvelope(msgType, src, dst, payload)
	if err != nil {
		e.log.Error().Err(err).Str("type", msgType).Msg("build notification")
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.log.Error().Err(err).Str("type", msgType).Msg("encode notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := e.db.EnqueueOutbox(ctx, topic, data, msgType, protocol.Broadcast); err != nil {
		e.metrics.outboxErrors.Inc()
		e.log.Error().Err(err).Str("type", msgType).Msg("enqueue notification")
	}
}

func (e *Engine) invalidate(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	ids := materialsOf(evt)
	switch ev := evt.Payload.(type) {
	case OrderSubmittedEvent:
		ids = e.orderMaterials(ctx, ev.OrderID)
	case OrderStageChangedEvent:
		ids = e.orderMaterials(ctx, ev.OrderID)
	case OrderTrashedEvent:
		ids = e.orderMaterials(ctx, ev.OrderID)
	}
	e.cache.Invalidate(ctx, ids...)
}

func (e *Engine) orderMaterials(ctx context.Context, orderID int64) []int64 {
	items, err := e.db.ListOrderItems(ctx, orderID)
	if err != nil {
		e.log.Warn().Err(err).Int64("order", orderID).Msg("list order items for invalidation")
		return nil
	}
	seen := make(map[int64]bool, len(items))
	var ids []int64
	for _, it := range items {
		if !seen[it.MaterialID] {
			seen[it.MaterialID] = true
			ids = append(ids, it.MaterialID)
		}
	}
	return ids
}
