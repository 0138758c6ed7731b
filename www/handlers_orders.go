package www

import (
	"net/http"
	"strconv"

	"stockcore/ordering"
)

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	trashed, _ := strconv.ParseBool(r.URL.Query().Get("trashed"))
	orders, err := h.engine.Processor().List(r.Context(), status, trashed, queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, orders)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.engine.Processor().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, order)
}

func (h *Handlers) apiSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Actor = h.actor(r)
	order, err := h.engine.Processor().Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonCreated(w, order)
}

type advanceRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) apiAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Processor().Advance(r.Context(), id, req.Status, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, order)
}

func (h *Handlers) apiTrashOrder(w http.ResponseWriter, r *http.Request) {
	h.setTrashed(w, r, true)
}

func (h *Handlers) apiUntrashOrder(w http.ResponseWriter, r *http.Request) {
	h.setTrashed(w, r, false)
}

func (h *Handlers) setTrashed(w http.ResponseWriter, r *http.Request, trashed bool) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.engine.Processor().SetTrashed(r.Context(), id, trashed, h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, order)
}
