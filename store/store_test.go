package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockcore/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetRetryDelay(time.Millisecond)
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func createMaterial(t *testing.T, db *DB, sku string) *Material {
	t.Helper()
	m := &Material{SKU: sku, Name: sku + " name"}
	if err := db.CreateMaterial(context.Background(), m); err != nil {
		t.Fatalf("create material: %v", err)
	}
	return m
}

func createOrder(t *testing.T, db *DB, number, status string, items ...*OrderItem) *Order {
	t.Helper()
	o := &Order{OrderNumber: number, Status: status, Items: items}
	for _, it := range items {
		if it.ShortageAction == "" {
			it.ShortageAction = ShortageProduce
		}
	}
	if err := db.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// --- Material tests ---

func TestMaterialCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := &Material{SKU: "BOLT-10", Name: "Bolt", ReorderPoint: dec("5")}
	if err := db.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	if m.Unit != "un" {
		t.Errorf("Unit = %q, want default %q", m.Unit, "un")
	}

	got, err := db.GetMaterial(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SKU != "BOLT-10" {
		t.Errorf("SKU = %q, want %q", got.SKU, "BOLT-10")
	}
	if !got.ReorderPoint.Equal(dec("5")) {
		t.Errorf("ReorderPoint = %s, want 5", got.ReorderPoint)
	}

	got.Name = "Hex bolt"
	if err := db.UpdateMaterial(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	bySKU, err := db.GetMaterialBySKU(ctx, "BOLT-10")
	if err != nil {
		t.Fatalf("get by sku: %v", err)
	}
	if bySKU.Name != "Hex bolt" {
		t.Errorf("Name after update = %q, want %q", bySKU.Name, "Hex bolt")
	}

	if _, err := db.GetMaterial(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMaterial(9999) err = %v, want ErrNotFound", err)
	}

	list, err := db.ListMaterials(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}
}

func TestMaterialsExist(t *testing.T) {
	db := testDB(t)
	m := createMaterial(t, db, "M1")

	found, err := db.MaterialsExist(context.Background(), []int64{m.ID, 404, m.ID})
	if err != nil {
		t.Fatalf("exist: %v", err)
	}
	if !found[m.ID] {
		t.Error("existing material should be found")
	}
	if found[404] {
		t.Error("material 404 should not be found")
	}
}

// --- Stock ledger tests ---

func TestCreditStock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	onHand, err := db.OnHand(ctx, m.ID)
	if err != nil {
		t.Fatalf("on hand: %v", err)
	}
	if !onHand.IsZero() {
		t.Errorf("OnHand before any receipt = %s, want 0", onHand)
	}

	if _, err := db.CreditStock(ctx, m.ID, dec("4")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	after, err := db.CreditStock(ctx, m.ID, dec("2.5"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !after.Equal(dec("6.5")) {
		t.Errorf("OnHand after credits = %s, want 6.5", after)
	}
}

func TestSetOnHandRejectsNegative(t *testing.T) {
	db := testDB(t)
	m := createMaterial(t, db, "M1")

	if err := db.SetOnHand(context.Background(), m.ID, dec("-1")); err == nil {
		t.Fatal("negative on hand should violate the check constraint")
	}
}

func TestStockAdjustments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	a := &StockAdjustment{MaterialID: m.ID, Before: dec("10"), After: dec("7"), Delta: dec("-3"), Reason: "damaged", Actor: "alice"}
	if err := db.CreateStockAdjustment(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := db.ListStockAdjustments(ctx, m.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if !list[0].Delta.Equal(dec("-3")) {
		t.Errorf("Delta = %s, want -3", list[0].Delta)
	}
	if list[0].Reason != "damaged" {
		t.Errorf("Reason = %q, want %q", list[0].Reason, "damaged")
	}
}

// --- Order tests ---

func TestNextOrderNumber(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, err := db.NextOrderNumber(ctx, "20260115")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, _ := db.NextOrderNumber(ctx, "20260115")
	other, _ := db.NextOrderNumber(ctx, "20260116")

	if first != "2026011501" {
		t.Errorf("first = %q, want %q", first, "2026011501")
	}
	if second != "2026011502" {
		t.Errorf("second = %q, want %q", second, "2026011502")
	}
	if other != "2026011601" {
		t.Errorf("other day = %q, want %q", other, "2026011601")
	}
}

func TestDuplicateOrderNumberIsUniqueViolation(t *testing.T) {
	db := testDB(t)
	createOrder(t, db, "2026011501", OrderOpen)

	err := db.CreateOrder(context.Background(), &Order{OrderNumber: "2026011501", Status: OrderOpen})
	if err == nil {
		t.Fatal("duplicate order number should fail")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	o := createOrder(t, db, "2026011501", OrderOpen,
		&OrderItem{MaterialID: m.ID, Quantity: dec("3"), UnitPrice: dec("1.50")},
		&OrderItem{MaterialID: m.ID, Quantity: dec("2"), UnitPrice: dec("0"), ShortageAction: ShortageBuy})

	got, err := db.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OrderNumber != "2026011501" {
		t.Errorf("OrderNumber = %q, want %q", got.OrderNumber, "2026011501")
	}
	if len(got.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(got.Items))
	}
	if !got.Items[0].UnitPrice.Equal(dec("1.5")) {
		t.Errorf("UnitPrice = %s, want 1.5", got.Items[0].UnitPrice)
	}
	if got.Items[1].ShortageAction != ShortageBuy {
		t.Errorf("ShortageAction = %q, want BUY", got.Items[1].ShortageAction)
	}
	if !got.Active() {
		t.Error("OPEN order should be active")
	}

	if _, err := db.GetOrder(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(404) err = %v, want ErrNotFound", err)
	}
}

func TestTrashAndUntrashOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	o := createOrder(t, db, "2026011501", OrderInPicking)

	if err := db.TrashOrder(ctx, o.ID, OrderInPicking, time.Now()); err != nil {
		t.Fatalf("trash: %v", err)
	}
	got, _ := db.GetOrder(ctx, o.ID)
	if got.Status != OrderCancelled {
		t.Errorf("Status = %q, want CANCELLED", got.Status)
	}
	if got.TrashedAt == nil {
		t.Error("TrashedAt should be set")
	}
	if got.StatusBeforeTrash != OrderInPicking {
		t.Errorf("StatusBeforeTrash = %q, want IN_PICKING", got.StatusBeforeTrash)
	}

	visible, _ := db.ListOrders(ctx, "", false, 10)
	if len(visible) != 0 {
		t.Errorf("trashed order listed: len = %d, want 0", len(visible))
	}
	all, _ := db.ListOrders(ctx, "", true, 10)
	if len(all) != 1 {
		t.Errorf("len(all) = %d, want 1", len(all))
	}

	if err := db.UntrashOrder(ctx, o.ID, got.StatusBeforeTrash); err != nil {
		t.Fatalf("untrash: %v", err)
	}
	got, _ = db.GetOrder(ctx, o.ID)
	if got.Status != OrderInPicking || got.TrashedAt != nil {
		t.Errorf("after untrash Status = %q TrashedAt = %v, want IN_PICKING and nil", got.Status, got.TrashedAt)
	}
}

func TestOpenDemandLinesFIFO(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	a := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("10")})
	createOrder(t, db, "02", OrderDraft, &OrderItem{MaterialID: m.ID, Quantity: dec("10")})
	b := createOrder(t, db, "03", OrderInPicking, &OrderItem{MaterialID: m.ID, Quantity: dec("5")})
	createOrder(t, db, "04", OrderDone, &OrderItem{MaterialID: m.ID, Quantity: dec("5")})
	createOrder(t, db, "05", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("5"), QtyReservedFromStock: dec("5")})

	lines, err := db.OpenDemandLines(ctx, m.ID)
	if err != nil {
		t.Fatalf("open demand: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].OrderID != a.ID || lines[1].OrderID != b.ID {
		t.Errorf("order = [%d %d], want [%d %d]", lines[0].OrderID, lines[1].OrderID, a.ID, b.ID)
	}
}

// --- Production task tests ---

func TestTaskLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")
	o := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("4")})

	task := &ProductionTask{OrderID: o.ID, MaterialID: m.ID, QtyToProduce: dec("4"), Status: TaskPending}
	if err := db.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, err := db.FindTask(ctx, o.ID, m.ID)
	if err != nil || found == nil {
		t.Fatalf("find: %v %v", found, err)
	}
	if found.ID != task.ID {
		t.Errorf("found ID = %d, want %d", found.ID, task.ID)
	}

	now := time.Now().Truncate(time.Second)
	found.Status = TaskInProgress
	found.StartedAt = &now
	if err := db.SetTaskState(ctx, found); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, _ := db.GetTask(ctx, task.ID)
	if got.Status != TaskInProgress {
		t.Errorf("Status = %q, want IN_PROGRESS", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
	}

	pending, _ := db.ListTasks(ctx, TaskPending, 10)
	if len(pending) != 0 {
		t.Errorf("pending tasks = %d, want 0", len(pending))
	}

	deleted, err := db.DeleteTask(ctx, o.ID, m.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	none, _ := db.FindTask(ctx, o.ID, m.ID)
	if none != nil {
		t.Error("task should be gone")
	}
	if _, err := db.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask after delete err = %v, want ErrNotFound", err)
	}
}

func TestGetTaskForUpdateInsideTx(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")
	o := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("2")})
	task := &ProductionTask{OrderID: o.ID, MaterialID: m.ID, QtyToProduce: dec("2"), Status: TaskPending}
	if err := db.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := db.WithTx(ctx, func(tx *Tx) error {
		locked, err := tx.GetTaskForUpdate(ctx, task.ID)
		if err != nil {
			return err
		}
		if locked.ID != task.ID || !locked.QtyToProduce.Equal(dec("2")) {
			t.Errorf("locked task = %+v", locked)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if _, err := db.GetTaskForUpdate(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task err = %v, want ErrNotFound", err)
	}
	if got, err := db.GetTask(ctx, task.ID); err != nil || got.Status != TaskPending {
		t.Errorf("plain read = %+v, %v", got, err)
	}
}

func TestDialectLocking(t *testing.T) {
	if got := (sqliteDialect{}).ForUpdate(); got != "" {
		t.Errorf("sqlite ForUpdate = %q, want empty", got)
	}
	if got := (postgresDialect{}).ForUpdate(); got != " FOR UPDATE" {
		t.Errorf("postgres ForUpdate = %q", got)
	}
}

// --- Reservation tests ---

func TestReservations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")
	o := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("4")})

	past := time.Now().Add(-time.Hour)
	if err := db.UpsertStockReservation(ctx, o.ID, m.ID, dec("2"), past); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpsertStockReservation(ctx, o.ID, m.ID, dec("3"), past); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	list, err := db.ListStockReservations(ctx, m.ID, time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if !list[0].Qty.Equal(dec("3")) {
		t.Errorf("Qty = %s, want 3", list[0].Qty)
	}
	if !list[0].Stale {
		t.Error("reservation past its TTL should be stale")
	}

	if err := db.UpsertProductionReservation(ctx, o.ID, m.ID, dec("4")); err != nil {
		t.Fatalf("upsert production: %v", err)
	}
	pr, err := db.GetProductionReservation(ctx, o.ID, m.ID)
	if err != nil {
		t.Fatalf("get production: %v", err)
	}
	if !pr.Qty.Equal(dec("4")) {
		t.Errorf("production Qty = %s, want 4", pr.Qty)
	}
	cleared, _ := db.ClearProductionReservation(ctx, o.ID, m.ID)
	if !cleared {
		t.Error("clear should report an existing row")
	}
	if _, err := db.GetProductionReservation(ctx, o.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear err = %v, want ErrNotFound", err)
	}
}

// --- Receipt tests ---

func TestReceiptLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	r := &InventoryReceipt{Type: ReceiptPurchase, SourceRef: "PO-1", Items: []*ReceiptItem{{MaterialID: m.ID, Qty: dec("8")}}}
	if err := db.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := db.GetReceipt(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ReceiptDraft {
		t.Errorf("Status = %q, want DRAFT", got.Status)
	}
	if len(got.Items) != 1 || !got.Items[0].Qty.Equal(dec("8")) {
		t.Errorf("Items = %+v, want one line of 8", got.Items)
	}

	if err := db.MarkReceiptPosted(ctx, r.ID, "bob", true, time.Now()); err != nil {
		t.Fatalf("mark posted: %v", err)
	}
	got, _ = db.GetReceipt(ctx, r.ID)
	if got.Status != ReceiptPosted || got.PostedBy != "bob" || !got.AutoAllocated || got.PostedAt == nil {
		t.Errorf("posted receipt = %+v", got)
	}

	drafts, _ := db.ListReceipts(ctx, ReceiptDraft, 10)
	if len(drafts) != 0 {
		t.Errorf("drafts = %d, want 0", len(drafts))
	}
}

// --- Query objects ---

func TestShortageInputs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")
	db.SetOnHand(ctx, m.ID, dec("12"))

	a := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("10")})
	createOrder(t, db, "02", OrderCancelled, &OrderItem{MaterialID: m.ID, Quantity: dec("50")})
	createOrder(t, db, "03", OrderDraft, &OrderItem{MaterialID: m.ID, Quantity: dec("50")})
	db.InsertTask(ctx, &ProductionTask{OrderID: a.ID, MaterialID: m.ID, QtyToProduce: dec("4"), Status: TaskPending})
	self := createOrder(t, db, "04", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("7")})

	in, err := db.ShortageInputs(ctx, m.ID, self.ID)
	if err != nil {
		t.Fatalf("inputs: %v", err)
	}
	if !in.OnHand.Equal(dec("12")) {
		t.Errorf("OnHand = %s, want 12", in.OnHand)
	}
	if !in.OthersRequested.Equal(dec("10")) {
		t.Errorf("OthersRequested = %s, want 10", in.OthersRequested)
	}
	if !in.OthersRouted.Equal(dec("4")) {
		t.Errorf("OthersRouted = %s, want 4", in.OthersRouted)
	}
}

func TestStockPosition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := &Material{SKU: "M1", ReorderPoint: dec("20")}
	db.CreateMaterial(ctx, m)
	db.SetOnHand(ctx, m.ID, dec("10"))
	o := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("6"), QtyReservedFromStock: dec("4"), QtyToProduce: dec("2")})
	db.InsertTask(ctx, &ProductionTask{OrderID: o.ID, MaterialID: m.ID, QtyToProduce: dec("2"), Status: TaskPending})
	db.UpsertStockReservation(ctx, o.ID, m.ID, dec("4"), time.Now().Add(-time.Minute))

	pos, err := db.StockPosition(ctx, m.ID, time.Now())
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.Reserved.Equal(dec("4")) {
		t.Errorf("Reserved = %s, want 4", pos.Reserved)
	}
	if !pos.Free.Equal(dec("6")) {
		t.Errorf("Free = %s, want 6", pos.Free)
	}
	if !pos.ToProduce.Equal(dec("2")) {
		t.Errorf("ToProduce = %s, want 2", pos.ToProduce)
	}
	if !pos.StaleReserved.Equal(dec("4")) {
		t.Errorf("StaleReserved = %s, want 4", pos.StaleReserved)
	}
	if !pos.BelowReorder {
		t.Error("on hand 10 with reorder point 20 should be below reorder")
	}
}

// --- Transactions ---

func TestWithTxRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.CreditStock(ctx, m.ID, dec("5")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	onHand, _ := db.OnHand(ctx, m.ID)
	if !onHand.IsZero() {
		t.Errorf("OnHand after rollback = %s, want 0", onHand)
	}
}

func TestWithTxRetriesTransientOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	calls := 0
	err := db.WithTx(ctx, func(tx *Tx) error {
		calls++
		if calls == 1 {
			return driver.ErrBadConn
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil after retry", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	err = db.WithTx(ctx, func(tx *Tx) error {
		calls++
		return driver.ErrBadConn
	})
	if !errors.Is(err, driver.ErrBadConn) {
		t.Errorf("err = %v, want ErrBadConn", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
}

func TestWithTxDoesNotRetryBusinessErrors(t *testing.T) {
	db := testDB(t)
	calls := 0
	err := db.WithTx(context.Background(), func(tx *Tx) error {
		calls++
		return ErrConflict
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	if v.Err() != nil {
		t.Error("empty ValidationError should be nil")
	}
	v.Add("items[0].quantity", "must be greater than 0")
	v.Add("items[0].quantity", "second message ignored")
	err := v.Err()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("errors.As failed for %v", err)
	}
	if ve.Fields["items[0].quantity"] != "must be greater than 0" {
		t.Errorf("field message = %q", ve.Fields["items[0].quantity"])
	}
}

// --- Ambient tables ---

func TestAuditAndOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.AppendAudit(ctx, "order", 1, "created", "", "OPEN", ""); err != nil {
		t.Fatalf("audit: %v", err)
	}
	entries, _ := db.ListEntityAudit(ctx, "order", 1)
	if len(entries) != 1 || entries[0].Actor != "system" {
		t.Errorf("entries = %+v, want one by system", entries)
	}

	if err := db.EnqueueOutbox(ctx, "stockcore.notify", []byte(`{}`), "task.upserted", "core"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending, _ := db.ListPendingOutbox(ctx, 5, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	db.AckOutbox(ctx, pending[0].ID)
	pending, _ = db.ListPendingOutbox(ctx, 5, 10)
	if len(pending) != 0 {
		t.Errorf("pending after ack = %d, want 0", len(pending))
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	exists, _ := db.AdminUserExists(ctx)
	if exists {
		t.Error("no admin users expected")
	}
	db.CreateAdminUser(ctx, "admin", "hash")
	u, err := db.GetAdminUser(ctx, "admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash" {
		t.Errorf("PasswordHash = %q, want %q", u.PasswordHash, "hash")
	}
}

func TestFractionalQuantitiesReadBackExact(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createMaterial(t, db, "M1")

	if _, err := db.CreditStock(ctx, m.ID, dec("0.1")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	onHand, err := db.CreditStock(ctx, m.ID, dec("0.2"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if onHand.String() != "0.3" {
		t.Errorf("on hand after credits = %s, want 0.3", onHand)
	}

	a := createOrder(t, db, "01", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("0.7")})
	b := createOrder(t, db, "02", OrderOpen, &OrderItem{MaterialID: m.ID, Quantity: dec("0.1")})
	for _, o := range []*Order{a, b} {
		it := o.Items[0]
		if err := db.SetItemAllocation(ctx, it.ID, it.Quantity, decimal.Zero); err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := db.UpsertStockReservation(ctx, o.ID, m.ID, it.Quantity, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	reserved, err := db.ActiveReservedFromStock(ctx, m.ID)
	if err != nil {
		t.Fatalf("reserved: %v", err)
	}
	if reserved.String() != "0.8" {
		t.Errorf("reserved = %s, want 0.8", reserved)
	}
	sum, _ := db.SumStockReservations(ctx, m.ID)
	if sum.String() != "0.8" {
		t.Errorf("reservation sum = %s, want 0.8", sum)
	}

	in, err := db.ShortageInputs(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("shortage inputs: %v", err)
	}
	if in.OthersRequested.String() != "0.8" || in.OnHand.String() != "0.3" {
		t.Errorf("inputs = %+v", in)
	}
}
