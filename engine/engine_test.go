package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/config"
	"stockcore/ordering"
	"stockcore/protocol"
	"stockcore/receiving"
	"stockcore/stockcache"
	"stockcore/store"
)

func TestEventBusFilters(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())
	var all, tasks int
	bus.Subscribe(func(Event) { all++ })
	id := bus.SubscribeTypes(func(evt Event) {
		if _, ok := evt.Payload.(TaskUpsertedEvent); !ok {
			t.Errorf("unexpected payload %T", evt.Payload)
		}
		tasks++
	}, EventTaskUpserted)

	bus.Emit(Event{Type: EventTaskUpserted, Payload: TaskUpsertedEvent{TaskID: 1}})
	bus.Emit(Event{Type: EventStockAdjusted, Payload: StockAdjustedEvent{MaterialID: 1}})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventTaskUpserted, Payload: TaskUpsertedEvent{TaskID: 2}})

	if all != 3 || tasks != 1 {
		t.Errorf("all = %d, tasks = %d; want 3, 1", all, tasks)
	}
}

func TestPanickingSubscriberIsSkipped(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())
	var after bool
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { after = true })
	bus.Emit(Event{Type: EventStockAdjusted, Payload: StockAdjustedEvent{}})
	if !after {
		t.Error("later subscribers should still run")
	}
	if EventStockAdjusted.String() != "stock_adjusted" || EventType(99).String() != "unknown" {
		t.Errorf("names = %s, %s", EventStockAdjusted, EventType(99))
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())
	var got time.Time
	bus.Subscribe(func(evt Event) { got = evt.Timestamp })
	bus.Emit(Event{Type: EventOrderTrashed, Payload: OrderTrashedEvent{}})
	if got.IsZero() {
		t.Error("Emit should stamp a timestamp")
	}
}

// --- Engine wiring ---

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	eng := New(Config{
		AppConfig: cfg,
		DB:        db,
		Cache:     stockcache.NewManager(db, nil, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func createMaterial(t *testing.T, eng *Engine, sku string) int64 {
	t.Helper()
	m := &store.Material{SKU: sku, Name: sku}
	if err := eng.DB().CreateMaterial(context.Background(), m); err != nil {
		t.Fatalf("create material: %v", err)
	}
	return m.ID
}

func outboxTypes(t *testing.T, eng *Engine) map[string]int {
	t.Helper()
	msgs, err := eng.DB().ListPendingOutbox(context.Background(), 10, 100)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	types := map[string]int{}
	for _, m := range msgs {
		if m.Topic != eng.AppConfig().Messaging.NotifyTopic || m.StationID != protocol.Broadcast {
			t.Errorf("outbox row %d routed to %s/%s", m.ID, m.Topic, m.StationID)
		}
		types[m.MsgType]++
	}
	return types
}

func TestProduceCycleNotifies(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()
	m := createMaterial(t, eng, "PANEL")

	o, err := eng.Processor().Submit(ctx, ordering.SubmitRequest{Actor: "clerk", Items: []ordering.LineRequest{{
		MaterialID: m, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(3),
	}}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err := eng.DB().FindTask(ctx, o.ID, m)
	if err != nil || task == nil {
		t.Fatalf("task missing: %v", err)
	}
	if _, err := eng.Tracker().Mutate(ctx, task.ID, "complete", "op"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	r, err := eng.Poster().Create(ctx, receiving.CreateReceiptRequest{
		Type:    store.ReceiptProduction,
		OrderID: &o.ID,
		Items:   []receiving.LineRequest{{MaterialID: m, Qty: decimal.NewFromInt(10)}},
	})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	if _, err := eng.Poster().Post(ctx, r.ID, receiving.PostOptions{PostedBy: "line-1", AutoAllocate: true}); err != nil {
		t.Fatalf("post: %v", err)
	}

	types := outboxTypes(t, eng)
	for _, want := range []string{
		protocol.TypeOrderStage, protocol.TypeTaskUpserted, protocol.TypeTaskChanged,
		protocol.TypeReceiptPosted, protocol.TypeAllocationAvailable,
	} {
		if types[want] == 0 {
			t.Errorf("no %s notification in outbox: %v", want, types)
		}
	}

	audit, err := eng.DB().ListEntityAudit(ctx, "order", o.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	actions := map[string]bool{}
	for _, a := range audit {
		actions[a.Action] = true
	}
	if !actions["submitted"] || !actions["allocated"] {
		t.Errorf("order audit actions = %v", actions)
	}

	if got := counterValue(t, eng.Metrics().events.WithLabelValues("receipt_posted")); got != 1 {
		t.Errorf("receipt_posted events = %v, want 1", got)
	}
	if got := counterValue(t, eng.Metrics().allocated.WithLabelValues(fmt.Sprint(m))); got != 10 {
		t.Errorf("allocated units = %v, want 10", got)
	}
}

func TestStockAdjustedNotification(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()
	m := createMaterial(t, eng, "BOLT")

	if _, err := eng.Processor().AdjustStock(ctx, m, decimal.NewFromInt(12), "count", "auditor"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	msgs, _ := eng.DB().ListPendingOutbox(ctx, 10, 10)
	if len(msgs) != 1 || msgs[0].MsgType != protocol.TypeStockAdjusted {
		t.Fatalf("outbox = %+v", msgs)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msgs[0].Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var p protocol.StockAdjusted
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.MaterialID != m || !p.Delta.Equal(decimal.NewFromInt(12)) || p.Actor != "auditor" {
		t.Errorf("payload = %+v", p)
	}
	if env.Src.Role != protocol.RoleCore || env.Dst.Station != protocol.Broadcast {
		t.Errorf("envelope addressing = %+v -> %+v", env.Src, env.Dst)
	}
}

func TestNoNotifyTopicKeepsOutboxEmpty(t *testing.T) {
	eng := testEngine(t)
	eng.AppConfig().Messaging.NotifyTopic = ""
	ctx := context.Background()
	m := createMaterial(t, eng, "NUT")

	if _, err := eng.Processor().AdjustStock(ctx, m, decimal.NewFromInt(1), "count", "auditor"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if types := outboxTypes(t, eng); len(types) != 0 {
		t.Errorf("outbox = %v, want empty", types)
	}
	audit, _ := eng.DB().ListEntityAudit(ctx, "material", m)
	if len(audit) != 1 || audit[0].OldValue != "0" || audit[0].NewValue != "1" {
		t.Errorf("audit = %+v", audit)
	}
}

func TestMaterialsOf(t *testing.T) {
	ids := materialsOf(Event{Type: EventReceiptPosted, Payload: ReceiptPostedEvent{Lines: []ReceiptLine{
		{MaterialID: 4}, {MaterialID: 9},
	}}})
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 9 {
		t.Errorf("ids = %v", ids)
	}
	if ids := materialsOf(Event{Type: EventOrderTrashed, Payload: OrderTrashedEvent{}}); ids != nil {
		t.Errorf("order events carry no materials, got %v", ids)
	}
}
