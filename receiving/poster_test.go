package receiving

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/allocation"
	"stockcore/config"
	"stockcore/production"
	"stockcore/store"
)

// --- Mock emitters ---

type mockEmitter struct {
	mu     sync.Mutex
	posted []int64
}

func (m *mockEmitter) EmitReceiptPosted(r *store.InventoryReceipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, r.ID)
}

type nopAllocEmitter struct{}

func (nopAllocEmitter) EmitAllocated(_, _, _ int64, _, _, _ decimal.Decimal, _ string) {}

type nopTaskEmitter struct{}

func (nopTaskEmitter) EmitTaskUpserted(_, _, _ int64, _ decimal.Decimal, _ string) {}
func (nopTaskEmitter) EmitTaskChanged(_, _, _ int64, _, _ string)                 {}
func (nopTaskEmitter) EmitTaskRemoved(_, _, _ int64)                              {}

// --- Test helpers ---

type fixture struct {
	db     *store.DB
	tasks  *production.Tracker
	poster *Poster
	em     *mockEmitter
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetRetryDelay(time.Millisecond)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, em: &mockEmitter{}}
	f.tasks = production.NewTracker(db, nopTaskEmitter{}, zerolog.Nop())
	alloc := allocation.NewEngine(db, f.tasks, nopAllocEmitter{}, time.Hour, zerolog.Nop())
	f.poster = NewPoster(db, alloc, f.em, zerolog.Nop())
	return f
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f *fixture) material(t *testing.T) int64 {
	t.Helper()
	f.seq++
	m := &store.Material{SKU: fmt.Sprintf("R-%d", f.seq), Name: "bolt"}
	if err := f.db.CreateMaterial(context.Background(), m); err != nil {
		t.Fatalf("create material: %v", err)
	}
	return m.ID
}

// produceOrder creates an OPEN order whose whole quantity waits on production.
func (f *fixture) produceOrder(t *testing.T, materialID, qty int64) *store.Order {
	t.Helper()
	ctx := context.Background()
	f.seq++
	o := &store.Order{OrderNumber: fmt.Sprintf("20260102%02d", f.seq), Status: store.OrderOpen, Items: []*store.OrderItem{{
		MaterialID:     materialID,
		Quantity:       dec(qty),
		QtyToProduce:   dec(qty),
		ShortageAction: store.ShortageProduce,
	}}}
	err := f.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		_, err := f.tasks.Upsert(ctx, tx, o.ID, materialID, dec(qty))
		return err
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) draft(t *testing.T, req CreateReceiptRequest) *store.InventoryReceipt {
	t.Helper()
	r, err := f.poster.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	return r
}

func purchase(materialID, qty int64) CreateReceiptRequest {
	return CreateReceiptRequest{
		Type:      store.ReceiptPurchase,
		SourceRef: "PO-1",
		Items:     []LineRequest{{MaterialID: materialID, Qty: dec(qty)}},
	}
}

// --- Tests ---

func TestPostCreditsAndAllocates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	o := f.produceOrder(t, m, 10)
	r := f.draft(t, purchase(m, 10))

	posted, err := f.poster.Post(ctx, r.ID, PostOptions{PostedBy: "alice", AutoAllocate: true})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != store.ReceiptPosted || posted.PostedBy != "alice" || !posted.AutoAllocated {
		t.Errorf("posted = %+v", posted)
	}

	onHand, _ := f.db.OnHand(ctx, m)
	if !onHand.Equal(dec(10)) {
		t.Errorf("on hand = %s, want 10", onHand)
	}
	got, _ := f.db.GetOrder(ctx, o.ID)
	if !got.Items[0].QtyReservedFromStock.Equal(dec(10)) || !got.Items[0].QtyToProduce.IsZero() {
		t.Errorf("item = reserved %s / to produce %s, want 10 / 0",
			got.Items[0].QtyReservedFromStock, got.Items[0].QtyToProduce)
	}
	if task, _ := f.db.FindTask(ctx, o.ID, m); task != nil {
		t.Errorf("task should be deleted, got %+v", task)
	}
	if len(f.em.posted) != 1 {
		t.Errorf("posted events = %v", f.em.posted)
	}

	stored, _ := f.poster.Get(ctx, r.ID)
	if stored.Status != store.ReceiptPosted || stored.PostedAt == nil {
		t.Errorf("stored receipt = %+v", stored)
	}
}

func TestPostWithoutAutoAllocate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	o := f.produceOrder(t, m, 4)
	r := f.draft(t, purchase(m, 4))

	if _, err := f.poster.Post(ctx, r.ID, PostOptions{PostedBy: "alice"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	onHand, _ := f.db.OnHand(ctx, m)
	if !onHand.Equal(dec(4)) {
		t.Errorf("on hand = %s, want 4", onHand)
	}
	got, _ := f.db.GetOrder(ctx, o.ID)
	if !got.Items[0].QtyReservedFromStock.IsZero() {
		t.Errorf("reserved = %s, want 0 without auto-allocate", got.Items[0].QtyReservedFromStock)
	}
}

func TestPostTwiceIsAlreadyPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	r := f.draft(t, purchase(m, 5))

	if _, err := f.poster.Post(ctx, r.ID, PostOptions{PostedBy: "alice"}); err != nil {
		t.Fatalf("first post: %v", err)
	}
	_, err := f.poster.Post(ctx, r.ID, PostOptions{PostedBy: "bob", AutoAllocate: true})
	if !errors.Is(err, ErrAlreadyPosted) {
		t.Fatalf("err = %v, want ErrAlreadyPosted", err)
	}
	if !errors.Is(err, store.ErrConflict) {
		t.Error("ErrAlreadyPosted should wrap store.ErrConflict")
	}

	onHand, _ := f.db.OnHand(ctx, m)
	if !onHand.Equal(dec(5)) {
		t.Errorf("on hand = %s, want 5 (no double credit)", onHand)
	}
	stored, _ := f.poster.Get(ctx, r.ID)
	if stored.PostedBy != "alice" {
		t.Errorf("posted_by = %q, want alice", stored.PostedBy)
	}
}

func TestConcurrentPostsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	o := f.produceOrder(t, m, 4)
	r := f.draft(t, purchase(m, 5))

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.poster.Post(ctx, r.ID, PostOptions{PostedBy: fmt.Sprintf("clerk-%d", i), AutoAllocate: true})
		}(i)
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrAlreadyPosted):
			t.Errorf("post %d: %v, want ErrAlreadyPosted", i, err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d posts succeeded, want exactly 1", ok)
	}
	if len(f.em.posted) != 1 {
		t.Errorf("posted events = %d, want 1", len(f.em.posted))
	}

	onHand, _ := f.db.OnHand(ctx, m)
	if !onHand.Equal(dec(5)) {
		t.Errorf("on hand = %s, want 5", onHand)
	}
	got, _ := f.db.GetOrder(ctx, o.ID)
	if !got.Items[0].QtyReservedFromStock.Equal(dec(4)) {
		t.Errorf("reserved = %s, want 4", got.Items[0].QtyReservedFromStock)
	}
	sum, _ := f.db.SumStockReservations(ctx, m)
	if sum.GreaterThan(onHand) {
		t.Errorf("reservations %s exceed on hand %s", sum, onHand)
	}
}

func TestPostUnknownReceipt(t *testing.T) {
	f := newFixture(t)
	_, err := f.poster.Post(context.Background(), 777, PostOptions{PostedBy: "alice"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProductionReceiptClearsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	o := f.produceOrder(t, m, 10)

	task, _ := f.db.FindTask(ctx, o.ID, m)
	if _, err := f.tasks.Complete(ctx, task.ID, "op"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.db.GetProductionReservation(ctx, o.ID, m); err != nil {
		t.Fatalf("production reservation missing after completion: %v", err)
	}

	r := f.draft(t, CreateReceiptRequest{
		Type:    store.ReceiptProduction,
		OrderID: &o.ID,
		Items:   []LineRequest{{MaterialID: m, Qty: dec(10)}},
	})
	if _, err := f.poster.Post(ctx, r.ID, PostOptions{PostedBy: "line-1"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := f.db.GetProductionReservation(ctx, o.ID, m); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("production reservation should be cleared, got %v", err)
	}
}

func TestFailedPostWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	r := f.draft(t, CreateReceiptRequest{
		Type:  store.ReceiptPurchase,
		Items: []LineRequest{{MaterialID: m, Qty: dec(3)}, {MaterialID: m, Qty: dec(2)}},
	})

	// A cancelled context fails the transaction.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := f.poster.Post(cctx, r.ID, PostOptions{PostedBy: "alice"}); err == nil {
		t.Fatal("expected post with cancelled context to fail")
	}

	onHand, _ := f.db.OnHand(ctx, m)
	if !onHand.IsZero() {
		t.Errorf("on hand = %s, want 0 after rollback", onHand)
	}
	stored, _ := f.poster.Get(ctx, r.ID)
	if stored.Status != store.ReceiptDraft {
		t.Errorf("status = %s, want DRAFT", stored.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)

	_, err := f.poster.Create(ctx, CreateReceiptRequest{
		Type:  "GIFT",
		Items: []LineRequest{{MaterialID: m, Qty: dec(0)}, {MaterialID: 999, Qty: dec(1)}},
	})
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, field := range []string{"type", "items[0].qty", "items[1].material_id"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing field error %q in %v", field, verr.Fields)
		}
	}

	_, err = f.poster.Create(ctx, CreateReceiptRequest{Type: store.ReceiptProduction})
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, ok := verr.Fields["order_id"]; !ok {
		t.Errorf("production receipt without order should flag order_id: %v", verr.Fields)
	}
	if _, ok := verr.Fields["items"]; !ok {
		t.Errorf("empty receipt should flag items: %v", verr.Fields)
	}

	_, err = f.poster.Create(ctx, CreateReceiptRequest{
		Type:  store.ReceiptPurchase,
		Items: []LineRequest{{MaterialID: m, Qty: decimal.RequireFromString("1.00005")}},
	})
	if !errors.As(err, &verr) || verr.Fields["items[0].qty"] == "" {
		t.Errorf("over-precise qty err = %v, want qty field error", err)
	}

	list, _ := f.poster.List(ctx, "", 0)
	if len(list) != 0 {
		t.Errorf("invalid receipts were stored: %d", len(list))
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.material(t)
	a := f.draft(t, purchase(m, 1))
	f.draft(t, purchase(m, 2))
	f.poster.Post(ctx, a.ID, PostOptions{PostedBy: "alice"})

	drafts, err := f.poster.List(ctx, store.ReceiptDraft, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(drafts) != 1 {
		t.Errorf("drafts = %d, want 1", len(drafts))
	}
	all, _ := f.poster.List(ctx, "", 10)
	if len(all) != 2 || len(all[0].Items) != 1 {
		t.Errorf("all = %d receipts", len(all))
	}
}
