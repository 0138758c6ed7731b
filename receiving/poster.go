package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockcore/allocation"
	"stockcore/store"
)

// ErrAlreadyPosted is returned when posting a receipt that is not DRAFT.
var ErrAlreadyPosted = fmt.Errorf("receipt already posted: %w", store.ErrConflict)

// Emitter is the interface adapters must satisfy to bridge receipt events to the engine.
type Emitter interface {
	EmitReceiptPosted(r *store.InventoryReceipt)
}

type PostOptions struct {
	PostedBy     string `json:"posted_by"`
	AutoAllocate bool   `json:"auto_allocate"`
}

type LineRequest struct {
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
}

type CreateReceiptRequest struct {
	Type      string        `json:"type"`
	SourceRef string        `json:"source_ref"`
	OrderID   *int64        `json:"order_id,omitempty"`
	Items     []LineRequest `json:"items"`
}

type Poster struct {
	db      *store.DB
	alloc   *allocation.Engine
	emitter Emitter
	log     zerolog.Logger
	now     func() time.Time
}

func NewPoster(db *store.DB, alloc *allocation.Engine, emitter Emitter, log zerolog.Logger) *Poster {
	return &Poster{
		db:      db,
		alloc:   alloc,
		emitter: emitter,
		log:     log.With().Str("component", "receiving").Logger(),
		now:     time.Now,
	}
}

// Create stores a DRAFT receipt after validating every line.
func (p *Poster) Create(ctx context.Context, req CreateReceiptRequest) (*store.InventoryReceipt, error) {
	if err := p.validate(ctx, req); err != nil {
		return nil, err
	}
	r := &store.InventoryReceipt{
		Type:      req.Type,
		SourceRef: req.SourceRef,
		OrderID:   req.OrderID,
	}
	for _, l := range req.Items {
		r.Items = append(r.Items, &store.ReceiptItem{MaterialID: l.MaterialID, Qty: l.Qty})
	}
	if err := p.db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateReceipt(ctx, r)
	}); err != nil {
		return nil, fmt.Errorf("create receipt: %w", err)
	}
	return p.db.GetReceipt(ctx, r.ID)
}

func (p *Poster) validate(ctx context.Context, req CreateReceiptRequest) error {
	verr := &store.ValidationError{}
	switch req.Type {
	case store.ReceiptPurchase, store.ReceiptAdjustment:
	case store.ReceiptProduction:
		if req.OrderID == nil {
			verr.Add("order_id", "required for production receipts")
		}
	default:
		verr.Add("type", "must be PURCHASE, PRODUCTION or ADJUSTMENT")
	}
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
		if !known[l.MaterialID] {
			verr.Add(fmt.Sprintf("items[%d].material_id", i), "unknown material")
		}
		if !l.Qty.IsPositive() {
			verr.Add(fmt.Sprintf("items[%d].qty", i), "must be greater than 0")
		} else if !l.Qty.Equal(l.Qty.Round(store.QtyScale)) {
			verr.Add(fmt.Sprintf("items[%d].qty", i), fmt.Sprintf("at most %d decimal places", store.QtyScale))
		}
	}

	if req.OrderID != nil {
		if _, err := p.db.GetOrder(ctx, *req.OrderID); err != nil {
			verr.Add("order_id", "unknown order")
		}
	}
	return verr.Err()
}

// Post credits every line to the stock ledger, optionally hands the
// received quantities to open demand, and flips the receipt to POSTED. It
// all happens in one transaction.
func (p *Poster) Post(ctx context.Context, receiptID int64, opts PostOptions) (*store.InventoryReceipt, error) {
	var r *store.InventoryReceipt
	var passes []*allocation.Result
	err := p.db.WithTx(ctx, func(tx *store.Tx) error {
		passes = passes[:0]
		var err error
		r, err = tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if r.Status != store.ReceiptDraft {
			return ErrAlreadyPosted
		}

		for _, it := range r.Items {
			if !it.Qty.IsPositive() {
				continue
			}
			if _, err := tx.CreditStock(ctx, it.MaterialID, it.Qty); err != nil {
				return err
			}
			if opts.AutoAllocate {
				res, err := p.alloc.Allocate(ctx, tx, it.MaterialID, it.Qty, opts.PostedBy)
				if err != nil {
					return err
				}
				passes = append(passes, res)
			}
			if r.Type == store.ReceiptProduction && r.OrderID != nil {
				if _, err := tx.ClearProductionReservation(ctx, *r.OrderID, it.MaterialID); err != nil {
					return err
				}
			}
		}

		now := p.now()
		if err := tx.MarkReceiptPosted(ctx, r.ID, opts.PostedBy, opts.AutoAllocate, now); err != nil {
			return err
		}
		r.Status = store.ReceiptPosted
		r.PostedAt = &now
		r.PostedBy = opts.PostedBy
		r.AutoAllocated = opts.AutoAllocate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("post receipt %d: %w", receiptID, err)
	}

	p.log.Info().Int64("receipt", r.ID).Str("type", r.Type).Str("by", opts.PostedBy).
		Bool("auto_allocate", opts.AutoAllocate).Int("lines", len(r.Items)).Msg("receipt posted")
	p.emitter.EmitReceiptPosted(r)
	for _, res := range passes {
		p.alloc.Publish(res)
	}
	return r, nil
}

func (p *Poster) Get(ctx context.Context, receiptID int64) (*store.InventoryReceipt, error) {
	return p.db.GetReceipt(ctx, receiptID)
}

func (p *Poster) List(ctx context.Context, status string, limit int) ([]*store.InventoryReceipt, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.db.ListReceipts(ctx, status, limit)
}
