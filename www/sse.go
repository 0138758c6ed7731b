package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcore/engine"
)

type SSEEvent struct {
	Event string
	Data  string
}

type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopOnce  sync.Once
	stopChan  chan struct{}
	log       zerolog.Logger
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		log:       zerolog.Nop(),
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.fanOut(evt)
		case <-keepalive.C:
			h.fanOut(SSEEvent{Event: "keepalive", Data: "ping"})
		}
	}
}

func (h *EventHub) fanOut(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// drop if full
		}
	}
}

// Broadcast queues an event; data is encoded as JSON.
func (h *EventHub) Broadcast(event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("sse: encode")
		return
	}
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: string(b)}:
	default:
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	h.log = eng.Logger().With().Str("component", "sse").Logger()

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		switch ev := evt.Payload.(type) {
		case engine.TaskUpsertedEvent:
			h.Broadcast("task-update", map[string]any{
				"type": "upserted", "task_id": ev.TaskID, "order_id": ev.OrderID,
				"material_id": ev.MaterialID, "qty_to_produce": ev.QtyToProduce, "status": ev.Status,
			})
		case engine.TaskChangedEvent:
			h.Broadcast("task-update", map[string]any{
				"type": "changed", "task_id": ev.TaskID, "order_id": ev.OrderID,
				"material_id": ev.MaterialID, "status": ev.Status,
			})
		case engine.TaskRemovedEvent:
			h.Broadcast("task-update", map[string]any{
				"type": "removed", "task_id": ev.TaskID, "order_id": ev.OrderID, "material_id": ev.MaterialID,
			})
		}
	}, engine.EventTaskUpserted, engine.EventTaskChanged, engine.EventTaskRemoved)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		switch ev := evt.Payload.(type) {
		case engine.OrderSubmittedEvent:
			h.Broadcast("order-update", map[string]any{
				"type": "submitted", "order_id": ev.OrderID, "order_number": ev.OrderNumber, "status": ev.Status,
			})
		case engine.OrderStageChangedEvent:
			h.Broadcast("order-update", map[string]any{
				"type": "status_changed", "order_id": ev.OrderID, "order_number": ev.OrderNumber,
				"old_status": ev.From, "new_status": ev.To,
			})
		case engine.OrderTrashedEvent:
			h.Broadcast("order-update", map[string]any{
				"type": "trashed", "order_id": ev.OrderID, "order_number": ev.OrderNumber, "trashed": ev.Trashed,
			})
		case engine.AllocatedEvent:
			h.Broadcast("order-update", map[string]any{
				"type": "allocated", "order_id": ev.OrderID, "item_id": ev.ItemID, "material_id": ev.MaterialID,
				"allocated": ev.Allocated, "reserved": ev.Reserved, "to_produce": ev.ToProduce,
			})
		}
	}, engine.EventOrderSubmitted, engine.EventOrderStageChanged, engine.EventOrderTrashed, engine.EventAllocated)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		switch ev := evt.Payload.(type) {
		case engine.ReceiptPostedEvent:
			h.Broadcast("stock-update", map[string]any{
				"type": "receipt_posted", "receipt_id": ev.ReceiptID, "receipt_type": ev.Type, "lines": len(ev.Lines),
			})
		case engine.StockAdjustedEvent:
			h.Broadcast("stock-update", map[string]any{
				"type": "adjusted", "material_id": ev.MaterialID, "before": ev.Before, "after": ev.After,
			})
		}
	}, engine.EventReceiptPosted, engine.EventStockAdjusted)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]bool{"messaging": evt.Type == engine.EventMessagingConnected})
	}, engine.EventMessagingConnected, engine.EventMessagingDisconnected)
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.log.Debug().Err(err).Msg("sse: write")
				return
			}
			flusher.Flush()
		}
	}
}
