package ordering

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/production"
	"stockcore/store"
)

// maxNumberAttempts bounds how often a submission is replayed after losing
// an order number to a concurrent submission.
const maxNumberAttempts = 3

// ErrInvalidTransition is returned for an order stage change the current
// stage does not allow.
var ErrInvalidTransition = fmt.Errorf("invalid order transition: %w", store.ErrConflict)

// Emitter is the interface adapters must satisfy to bridge order events to the engine.
type Emitter interface {
	EmitOrderSubmitted(orderID int64, orderNumber, status string, total decimal.Decimal, actor string)
	EmitOrderStageChanged(orderID int64, orderNumber, from, to, actor string)
	EmitOrderTrashed(orderID int64, orderNumber string, trashed bool, actor string)
	EmitStockAdjusted(materialID int64, before, after decimal.Decimal, reason, actor string)
}

type LineRequest struct {
	MaterialID     int64           `json:"material_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	ShortageAction string          `json:"shortage_action"`
}

type SubmitRequest struct {
	Items []LineRequest `json:"items"`
	// Draft orders get a number but do not compete for stock until opened.
	Draft bool   `json:"draft"`
	Actor string `json:"-"`
}

// Processor turns customer demand into orders and keeps their stage,
// trash state and the stock ledger's manual adjustments.
type Processor struct {
	db    *store.DB
	tasks *production.Tracker
	em    Emitter
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

func NewProcessor(db *store.DB, tasks *production.Tracker, emitter Emitter, reservationTTL time.Duration, log zerolog.Logger) *Processor {
	if reservationTTL <= 0 {
		reservationTTL = 24 * time.Hour
	}
	return &Processor{
		db:    db,
		tasks: tasks,
		em:    emitter,
		ttl:   reservationTTL,
		log:   log.With().Str("component", "ordering").Logger(),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for order numbers and stamps.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// AvailableForNewOrder is the on-hand quantity a new order may count on
// once other active orders' demand that is not routed to production has
// been served first.
func AvailableForNewOrder(onHand, othersRequested, othersRouted decimal.Decimal) decimal.Decimal {
	waitingOnStock := decimal.Max(decimal.Zero, othersRequested.Sub(othersRouted))
	return decimal.Max(decimal.Zero, onHand.Sub(waitingOnStock))
}

// Submit validates and stores a new order. OPEN orders get their shortages
// routed to production in the same transaction.
func (p *Processor) Submit(ctx context.Context, req SubmitRequest) (*store.Order, error) {
	if err := p.validate(ctx, req); err != nil {
		return nil, err
	}
	status := store.OrderOpen
	if req.Draft {
		status = store.OrderDraft
	}

	var o *store.Order
	var tasks []*store.ProductionTask
	for attempt := 1; ; attempt++ {
		o = newOrder(req, status)
		day := p.now().Format("20060102")
		err := p.db.WithTx(ctx, func(tx *store.Tx) error {
			tasks = nil
			num, err := tx.NextOrderNumber(ctx, day)
			if err != nil {
				return err
			}
			o.OrderNumber = num
			if err := tx.CreateOrder(ctx, o); err != nil {
				return err
			}
			if status == store.OrderOpen {
				tasks, err = p.applyShortages(ctx, tx, o, true)
			}
			return err
		})
		if err == nil {
			break
		}
		if store.IsUniqueViolation(err) && attempt < maxNumberAttempts {
			p.log.Warn().Err(err).Int("attempt", attempt).Msg("order number taken, retrying")
			// The counter bump rolled back with the order; skip the taken
			// number for good before trying again.
			if _, err := p.db.NextOrderNumber(ctx, day); err != nil {
				return nil, fmt.Errorf("submit order: %w", err)
			}
			continue
		}
		return nil, fmt.Errorf("submit order: %w", err)
	}

	p.log.Info().Int64("order", o.ID).Str("number", o.OrderNumber).Str("status", o.Status).
		Int("lines", len(o.Items)).Int("tasks", len(tasks)).Msg("order submitted")
	p.em.EmitOrderSubmitted(o.ID, o.OrderNumber, o.Status, o.Total, req.Actor)
	p.tasks.Announce(tasks...)
	return p.db.GetOrder(ctx, o.ID)
}

func newOrder(req SubmitRequest, status string) *store.Order {
	o := &store.Order{Status: status, CreatedBy: req.Actor, Total: decimal.Zero}
	for _, l := range req.Items {
		action := l.ShortageAction
		if action == "" {
			action = store.ShortageProduce
		}
		o.Items = append(o.Items, &store.OrderItem{
			MaterialID:     l.MaterialID,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
			ShortageAction: action,
		})
		o.Total = o.Total.Add(l.Quantity.Mul(l.UnitPrice))
	}
	return o
}

func (p *Processor) validate(ctx context.Context, req SubmitRequest) error {
	verr := &store.ValidationError{}
	if len(req.Items) == 0 {
		verr.Add("items", "at least one line is required")
	}
	ids := make([]int64, 0, len(req.Items))
	for _, l := range req.Items {
		ids = append(ids, l.MaterialID)
	}
	known, err := p.db.MaterialsExist(ctx, ids)
	if err != nil {
		return err
	}
	for i, l := range req.Items {
		field := fmt.Sprintf("items[%d].", i)
		if !known[l.MaterialID] {
			verr.Add(field+"material_id", "unknown material")
		}
		if !l.Quantity.IsPositive() {
			verr.Add(field+"quantity", "must be greater than 0")
		} else if !l.Quantity.Equal(l.Quantity.Round(store.QtyScale)) {
			verr.Add(field+"quantity", fmt.Sprintf("at most %d decimal places", store.QtyScale))
		}
		if l.UnitPrice.IsNegative() {
			verr.Add(field+"unit_price", "must not be negative")
		}
		switch l.ShortageAction {
		case "", store.ShortageProduce, store.ShortageBuy:
		default:
			verr.Add(field+"shortage_action", "must be PRODUCE or BUY")
		}
	}
	return verr.Err()
}

// applyShortages splits every PRODUCE line of o between stock the order may
// count on and quantity to manufacture. With route set it also sizes the
// production task of each material.
func (p *Processor) applyShortages(ctx context.Context, tx *store.Tx, o *store.Order, route bool) ([]*store.ProductionTask, error) {
	lines := map[int64][]*store.OrderItem{}
	var materials []int64
	for _, it := range o.Items {
		if it.ShortageAction != store.ShortageProduce {
			continue
		}
		if _, seen := lines[it.MaterialID]; !seen {
			materials = append(materials, it.MaterialID)
		}
		lines[it.MaterialID] = append(lines[it.MaterialID], it)
	}
	// Lock in id order so two submissions never wait on each other crosswise.
	sort.Slice(materials, func(i, j int) bool { return materials[i] < materials[j] })

	var tasks []*store.ProductionTask
	for _, m := range materials {
		if err := tx.LockMaterial(ctx, m); err != nil {
			return nil, err
		}
		in, err := tx.ShortageInputs(ctx, m, o.ID)
		if err != nil {
			return nil, err
		}
		held, err := tx.ActiveReservedFromStock(ctx, m)
		if err != nil {
			return nil, err
		}
		available := AvailableForNewOrder(in.OnHand, in.OthersRequested, in.OthersRouted)
		// Never promise units the ledger already gave away.
		left := decimal.Min(available, decimal.Max(decimal.Zero, in.OnHand.Sub(held)))

		reserved, shortage := decimal.Zero, decimal.Zero
		for _, it := range lines[m] {
			covered := decimal.Min(it.Quantity, left)
			left = left.Sub(covered)
			it.QtyReservedFromStock = covered
			it.QtyToProduce = it.Quantity.Sub(covered)
			if err := tx.SetItemAllocation(ctx, it.ID, it.QtyReservedFromStock, it.QtyToProduce); err != nil {
				return nil, err
			}
			reserved = reserved.Add(covered)
			shortage = shortage.Add(it.QtyToProduce)
		}

		if reserved.IsPositive() {
			if err := tx.UpsertStockReservation(ctx, o.ID, m, reserved, p.now().Add(p.ttl)); err != nil {
				return nil, err
			}
		}
		if route && shortage.IsPositive() {
			task, err := p.tasks.Upsert(ctx, tx, o.ID, m, shortage)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

var transitions = map[string][]string{
	store.OrderDraft:     {store.OrderOpen, store.OrderCancelled},
	store.OrderOpen:      {store.OrderInPicking, store.OrderCancelled},
	store.OrderInPicking: {store.OrderDone, store.OrderCancelled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance moves an order to the next stage. Opening a draft routes its
// shortages; finishing or cancelling gives its stock reservations back.
func (p *Processor) Advance(ctx context.Context, orderID int64, to, actor string) (*store.Order, error) {
	var o *store.Order
	var from string
	var upserted, removed []*store.ProductionTask
	err := p.db.WithTx(ctx, func(tx *store.Tx) error {
		upserted, removed = nil, nil
		var err error
		o, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if o.TrashedAt != nil || !canTransition(from, to) {
			return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
		}
		if err := tx.UpdateOrderStatus(ctx, o.ID, to); err != nil {
			return err
		}
		o.Status = to

		switch to {
		case store.OrderOpen:
			upserted, err = p.applyShortages(ctx, tx, o, true)
			return err
		case store.OrderCancelled:
			removed, err = p.release(ctx, tx, o.ID)
			return err
		case store.OrderDone:
			return tx.DeleteOrderStockReservations(ctx, o.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance order %d: %w", orderID, err)
	}

	p.log.Info().Int64("order", o.ID).Str("from", from).Str("to", to).Str("actor", actor).Msg("order stage changed")
	p.em.EmitOrderStageChanged(o.ID, o.OrderNumber, from, to, actor)
	p.tasks.Announce(upserted...)
	p.tasks.AnnounceRemoved(removed...)
	return p.db.GetOrder(ctx, o.ID)
}

// release drops everything a dead order holds: production tasks and their
// output, and stock reservations. It returns the deleted tasks.
func (p *Processor) release(ctx context.Context, tx *store.Tx, orderID int64) ([]*store.ProductionTask, error) {
	tasks, err := tx.ListOrderTasks(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteOrderTasks(ctx, orderID); err != nil {
		return nil, err
	}
	if err := tx.DeleteOrderProductionReservations(ctx, orderID); err != nil {
		return nil, err
	}
	if err := tx.DeleteOrderStockReservations(ctx, orderID); err != nil {
		return nil, err
	}
	return tasks, tx.ReleaseOrderItems(ctx, orderID)
}

// SetTrashed soft-deletes or restores an order. Trashing cancels it and
// releases what it holds. Restoring brings back the previous stage and, for
// an active stage, splits its lines against free stock again; production
// tasks are not recreated. Repeating either call changes nothing.
func (p *Processor) SetTrashed(ctx context.Context, orderID int64, trashed bool, actor string) (*store.Order, error) {
	var o *store.Order
	var removed []*store.ProductionTask
	changed := false
	err := p.db.WithTx(ctx, func(tx *store.Tx) error {
		removed, changed = nil, false
		var err error
		o, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if (o.TrashedAt != nil) == trashed {
			return nil
		}
		changed = true
		if !trashed {
			status := o.StatusBeforeTrash
			if status == "" {
				status = store.OrderOpen
			}
			if err := tx.UntrashOrder(ctx, o.ID, status); err != nil {
				return err
			}
			o.Status = status
			if status != store.OrderOpen && status != store.OrderInPicking {
				return nil
			}
			_, err = p.applyShortages(ctx, tx, o, false)
			return err
		}
		if err := tx.TrashOrder(ctx, o.ID, o.Status, p.now()); err != nil {
			return err
		}
		removed, err = p.release(ctx, tx, o.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set order %d trashed=%t: %w", orderID, trashed, err)
	}

	if changed {
		p.log.Info().Int64("order", o.ID).Bool("trashed", trashed).Str("actor", actor).Msg("order trash state changed")
		p.em.EmitOrderTrashed(o.ID, o.OrderNumber, trashed, actor)
		p.tasks.AnnounceRemoved(removed...)
	}
	return p.db.GetOrder(ctx, o.ID)
}

// AdjustStock overwrites a material's on-hand quantity after a physical
// count and records the before/after pair.
func (p *Processor) AdjustStock(ctx context.Context, materialID int64, newOnHand decimal.Decimal, reason, actor string) (*store.StockAdjustment, error) {
	verr := &store.ValidationError{}
	if newOnHand.IsNegative() {
		verr.Add("on_hand", "must not be negative")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		verr.Add("reason", "required")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	adj := &store.StockAdjustment{MaterialID: materialID, After: newOnHand, Reason: reason, Actor: actor}
	err := p.db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetMaterial(ctx, materialID); err != nil {
			return err
		}
		if err := tx.LockMaterial(ctx, materialID); err != nil {
			return err
		}
		before, err := tx.OnHand(ctx, materialID)
		if err != nil {
			return err
		}
		adj.Before = before
		adj.Delta = newOnHand.Sub(before)
		if err := tx.SetOnHand(ctx, materialID, newOnHand); err != nil {
			return err
		}
		return tx.CreateStockAdjustment(ctx, adj)
	})
	if err != nil {
		return nil, fmt.Errorf("adjust stock of material %d: %w", materialID, err)
	}

	p.log.Info().Int64("material", materialID).Str("before", adj.Before.String()).Str("after", adj.After.String()).
		Str("actor", actor).Msg("stock adjusted")
	p.em.EmitStockAdjusted(materialID, adj.Before, adj.After, reason, actor)
	return adj, nil
}

func (p *Processor) Get(ctx context.Context, orderID int64) (*store.Order, error) {
	return p.db.GetOrder(ctx, orderID)
}

func (p *Processor) List(ctx context.Context, status string, includeTrashed bool, limit int) ([]*store.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.db.ListOrders(ctx, status, includeTrashed, limit)
}
