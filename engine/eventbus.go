package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type EventType int

var eventNames = map[EventType]string{
	EventTaskUpserted:          "task_upserted",
	EventTaskChanged:           "task_changed",
	EventTaskRemoved:           "task_removed",
	EventAllocated:             "allocated",
	EventOrderSubmitted:        "order_submitted",
	EventOrderStageChanged:     "order_stage_changed",
	EventOrderTrashed:          "order_trashed",
	EventReceiptPosted:         "receipt_posted",
	EventStockAdjusted:         "stock_adjusted",
	EventMessagingConnected:    "messaging_connected",
	EventMessagingDisconnected: "messaging_disconnected",
}

// String is the snake_case name used in metrics labels and logs.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

type SubscriberID int

// Event is emitted after the service call that caused it has committed.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type subscriber struct {
	id    SubscriberID
	fn    func(Event)
	types map[EventType]bool // nil means every type
}

func (s subscriber) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus delivers events synchronously, in subscription order, on the
// emitting goroutine.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID SubscriberID
	log    zerolog.Logger
}

func NewEventBus(log zerolog.Logger) *EventBus {
	return &EventBus{log: log.With().Str("component", "eventbus").Logger()}
}

// Subscribe registers a handler for all event types.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers a handler for the listed event types only.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return eb.add(fn, set)
}

func (eb *EventBus) add(fn func(Event), types map[EventType]bool) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs = append(eb.subs, subscriber{id: eb.nextID, fn: fn, types: types})
	return eb.nextID
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	kept := eb.subs[:0]
	for _, s := range eb.subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	eb.subs = kept
}

// Emit stamps the event and hands it to every matching subscriber. The
// state change it describes is already committed, so a failing subscriber
// is logged and skipped.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	subs := append([]subscriber(nil), eb.subs...)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error().Interface("panic", r).Int("subscriber", int(s.id)).
				Stringer("event", evt.Type).Msg("subscriber panicked")
		}
	}()
	s.fn(evt)
}
