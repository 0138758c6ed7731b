package www

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockcore/stockcache"
	"stockcore/store"
)

type createMaterialRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	MinStock     decimal.Decimal `json:"min_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
}

// apiListMaterials lists every material, or looks one up with ?sku=.
func (h *Handlers) apiListMaterials(w http.ResponseWriter, r *http.Request) {
	if sku := r.URL.Query().Get("sku"); sku != "" {
		m, err := h.engine.DB().GetMaterialBySKU(r.Context(), sku)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.jsonOK(w, m)
		return
	}
	materials, err := h.engine.DB().ListMaterials(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, materials)
}

func (req createMaterialRequest) material() (*store.Material, *store.ValidationError) {
	verr := &store.ValidationError{}
	m := &store.Material{
		SKU:          strings.TrimSpace(req.SKU),
		Name:         strings.TrimSpace(req.Name),
		Unit:         strings.TrimSpace(req.Unit),
		MinStock:     req.MinStock,
		ReorderPoint: req.ReorderPoint,
	}
	if m.SKU == "" {
		verr.Add("sku", "required")
	}
	if m.Name == "" {
		verr.Add("name", "required")
	}
	if m.MinStock.IsNegative() {
		verr.Add("min_stock", "must not be negative")
	}
	if m.ReorderPoint.IsNegative() {
		verr.Add("reorder_point", "must not be negative")
	}
	return m, verr
}

func (h *Handlers) apiCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req createMaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, verr := req.material()
	if err := verr.Err(); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.DB().CreateMaterial(r.Context(), m); err != nil {
		if store.IsUniqueViolation(err) {
			verr.Add("sku", "already exists")
			h.writeError(w, verr.Err())
			return
		}
		h.writeError(w, err)
		return
	}
	h.log.Info().Int64("material", m.ID).Str("sku", m.SKU).Str("actor", h.actor(r)).Msg("material created")
	h.jsonCreated(w, m)
}

// apiUpdateMaterial replaces a material's master data. Stock figures are
// untouched.
func (h *Handlers) apiUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req createMaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, verr := req.material()
	if err := verr.Err(); err != nil {
		h.writeError(w, err)
		return
	}
	if m.Unit == "" {
		m.Unit = "un"
	}
	m.ID = id
	if err := h.engine.DB().UpdateMaterial(r.Context(), m); err != nil {
		if store.IsUniqueViolation(err) {
			verr.Add("sku", "already exists")
			h.writeError(w, verr.Err())
			return
		}
		h.writeError(w, err)
		return
	}
	updated, err := h.engine.DB().GetMaterial(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if c := h.engine.Cache(); c != nil {
		c.RefreshMaterial(r.Context(), id)
	}
	h.jsonOK(w, updated)
}

// apiListStock serves every material's stock position.
func (h *Handlers) apiListStock(w http.ResponseWriter, r *http.Request) {
	if c := h.engine.Cache(); c != nil {
		positions, err := c.Positions(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.jsonOK(w, positions)
		return
	}
	materials, err := h.engine.DB().ListMaterials(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	now := time.Now()
	positions := make([]*stockcache.Position, 0, len(materials))
	for _, m := range materials {
		sp, err := h.engine.DB().StockPosition(r.Context(), m.ID, now)
		if err != nil {
			h.writeError(w, err)
			return
		}
		positions = append(positions, &stockcache.Position{StockPosition: *sp, ComputedAt: now})
	}
	h.jsonOK(w, positions)
}

// apiMaterialStock serves the stock position, from the cache when one is
// configured.
func (h *Handlers) apiMaterialStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if c := h.engine.Cache(); c != nil {
		pos, err := c.Position(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.jsonOK(w, pos)
		return
	}
	now := time.Now()
	sp, err := h.engine.DB().StockPosition(r.Context(), id, now)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, &stockcache.Position{StockPosition: *sp, ComputedAt: now})
}

func (h *Handlers) apiListAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	adjustments, err := h.engine.DB().ListStockAdjustments(r.Context(), id, queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, adjustments)
}

type adjustRequest struct {
	OnHand decimal.Decimal `json:"on_hand"`
	Reason string          `json:"reason"`
}

func (h *Handlers) apiAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	adj, err := h.engine.Processor().AdjustStock(r.Context(), id, req.OnHand, req.Reason, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, adj)
}

// apiReconcile hands the material's free stock to waiting orders.
func (h *Handlers) apiReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Allocator().Reconcile(r.Context(), id, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, map[string]any{
		"material_id": res.MaterialID,
		"requested":   res.Requested,
		"allocated":   res.Allocated(),
		"leftover":    res.Leftover,
		"lines":       len(res.Lines),
	})
}
