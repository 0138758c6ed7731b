// Package allocation distributes received or freed stock across open order
// lines, oldest order first.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/production"
	"stockcore/store"
)

// Emitter is the interface adapters must satisfy to bridge allocation events to the engine.
type Emitter interface {
	EmitAllocated(orderID, itemID, materialID int64, allocated, reserved, toProduce decimal.Decimal, actor string)
}

// Line records what one pass did to one order line.
type Line struct {
	OrderID   int64
	ItemID    int64
	Allocated decimal.Decimal
	Reserved  decimal.Decimal
	ToProduce decimal.Decimal
}

// Result describes one allocation pass. It is only used for notifications
// and metrics.
type Result struct {
	MaterialID int64
	Actor      string
	Requested  decimal.Decimal
	Leftover   decimal.Decimal
	Lines      []Line
	Upserted   []*store.ProductionTask
	Removed    []*store.ProductionTask
}

// Allocated is the quantity handed out by the pass.
func (r *Result) Allocated() decimal.Decimal {
	return r.Requested.Sub(r.Leftover)
}

type Engine struct {
	db      *store.DB
	tasks   *production.Tracker
	emitter Emitter
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(db *store.DB, tasks *production.Tracker, emitter Emitter, reservationTTL time.Duration, log zerolog.Logger) *Engine {
	if reservationTTL <= 0 {
		reservationTTL = 24 * time.Hour
	}
	return &Engine{
		db:      db,
		tasks:   tasks,
		emitter: emitter,
		ttl:     reservationTTL,
		log:     log.With().Str("component", "allocation").Logger(),
		now:     time.Now,
	}
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Allocate hands qty units of a material to unmet demand inside tx. Lines
// are visited strictly in order-creation order and each takes what it still
// needs until the quantity runs out. The caller publishes the result after
// commit.
func (e *Engine) Allocate(ctx context.Context, tx *store.Tx, materialID int64, qty decimal.Decimal, actor string) (*Result, error) {
	res := &Result{MaterialID: materialID, Actor: actor, Requested: qty, Leftover: qty}
	if !qty.IsPositive() {
		return res, nil
	}
	if err := tx.LockMaterial(ctx, materialID); err != nil {
		return nil, err
	}
	lines, err := tx.OpenDemandLines(ctx, materialID)
	if err != nil {
		return nil, err
	}

	remaining := qty
	touched := map[int64]bool{}
	var orders []int64
	for _, it := range lines {
		if !remaining.IsPositive() {
			break
		}
		needed := it.Needed()
		if needed.IsZero() {
			continue
		}
		alloc := decimal.Min(remaining, needed)
		it.QtyReservedFromStock = it.QtyReservedFromStock.Add(alloc)
		it.QtyToProduce = decimal.Zero
		if it.ShortageAction != store.ShortageBuy {
			it.QtyToProduce = decimal.Max(decimal.Zero, it.Quantity.Sub(it.QtyReservedFromStock))
		}
		if err := tx.SetItemAllocation(ctx, it.ID, it.QtyReservedFromStock, it.QtyToProduce); err != nil {
			return nil, err
		}

		reserved, err := tx.OrderReservedQty(ctx, it.OrderID, materialID)
		if err != nil {
			return nil, err
		}
		if err := tx.UpsertStockReservation(ctx, it.OrderID, materialID, reserved, e.now().Add(e.ttl)); err != nil {
			return nil, err
		}
		remaining = remaining.Sub(alloc)

		res.Lines = append(res.Lines, Line{
			OrderID:   it.OrderID,
			ItemID:    it.ID,
			Allocated: alloc,
			Reserved:  it.QtyReservedFromStock,
			ToProduce: it.QtyToProduce,
		})
		if !touched[it.OrderID] {
			touched[it.OrderID] = true
			orders = append(orders, it.OrderID)
		}
	}
	res.Leftover = remaining

	// One task per (order, material): size it from every line of the order,
	// not just the ones this pass touched.
	for _, orderID := range orders {
		if err := e.syncTask(ctx, tx, res, orderID, materialID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Engine) syncTask(ctx context.Context, tx *store.Tx, res *Result, orderID, materialID int64) error {
	items, err := tx.ListOrderItems(ctx, orderID)
	if err != nil {
		return err
	}
	toProduce := decimal.Zero
	for _, it := range items {
		if it.MaterialID == materialID && it.ShortageAction == store.ShortageProduce {
			toProduce = toProduce.Add(it.QtyToProduce)
		}
	}
	if toProduce.IsZero() {
		removed, err := e.tasks.Remove(ctx, tx, orderID, materialID)
		if err != nil {
			return err
		}
		if removed != nil {
			res.Removed = append(res.Removed, removed)
		}
		return nil
	}
	task, err := e.tasks.Upsert(ctx, tx, orderID, materialID, toProduce)
	if err != nil {
		return err
	}
	res.Upserted = append(res.Upserted, task)
	return nil
}

// Publish emits the notifications of a committed pass.
func (e *Engine) Publish(res *Result) {
	if res == nil {
		return
	}
	for _, l := range res.Lines {
		e.emitter.EmitAllocated(l.OrderID, l.ItemID, res.MaterialID, l.Allocated, l.Reserved, l.ToProduce, res.Actor)
	}
	e.tasks.Announce(res.Upserted...)
	e.tasks.AnnounceRemoved(res.Removed...)
	if len(res.Lines) > 0 {
		e.log.Info().Int64("material", res.MaterialID).Str("allocated", res.Allocated().String()).
			Str("leftover", res.Leftover.String()).Int("lines", len(res.Lines)).Msg("allocation pass")
	}
}

// Reconcile runs an allocation pass over the material's free stock: on hand
// minus what live orders already hold. It is the explicit way to hand out
// stock that expired or released reservations left behind.
func (e *Engine) Reconcile(ctx context.Context, materialID int64, actor string) (*Result, error) {
	var res *Result
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetMaterial(ctx, materialID); err != nil {
			return err
		}
		if err := tx.LockMaterial(ctx, materialID); err != nil {
			return err
		}
		onHand, err := tx.OnHand(ctx, materialID)
		if err != nil {
			return err
		}
		held, err := tx.ActiveReservedFromStock(ctx, materialID)
		if err != nil {
			return err
		}
		free := decimal.Max(decimal.Zero, onHand.Sub(held))
		res, err = e.Allocate(ctx, tx, materialID, free, actor)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile material %d: %w", materialID, err)
	}
	e.Publish(res)
	return res, nil
}
