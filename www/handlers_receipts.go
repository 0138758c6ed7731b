package www

import (
	"net/http"

	"stockcore/receiving"
)

func (h *Handlers) apiListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.engine.Poster().List(r.Context(), r.URL.Query().Get("status"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, receipts)
}

func (h *Handlers) apiGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	receipt, err := h.engine.Poster().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, receipt)
}

func (h *Handlers) apiCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiving.CreateReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.engine.Poster().Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonCreated(w, receipt)
}

type postReceiptRequest struct {
	AutoAllocate *bool `json:"auto_allocate"`
}

// apiPostReceipt posts a draft receipt. Auto-allocation is on unless the
// body turns it off.
func (h *Handlers) apiPostReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req postReceiptRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	opts := receiving.PostOptions{PostedBy: h.actor(r), AutoAllocate: true}
	if req.AutoAllocate != nil {
		opts.AutoAllocate = *req.AutoAllocate
	}
	receipt, err := h.engine.Poster().Post(r.Context(), id, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, receipt)
}
