package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stockcore/store"
)

const defaultListLimit = 100

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	dbOK := h.engine.DB().PingContext(r.Context()) == nil
	cacheOK := false
	if c := h.engine.Cache(); c != nil {
		cacheOK = c.Healthy(r.Context())
	}
	status := "ok"
	if !dbOK {
		status = "degraded"
	}
	h.jsonOK(w, map[string]any{
		"status":      status,
		"database":    dbOK,
		"driver":      h.engine.DB().DriverName(),
		"cache":       cacheOK,
		"messaging":   h.engine.MessagingConnected(),
		"sse_clients": h.eventHub.ClientCount(),
	})
}

func (h *Handlers) apiListAudit(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType != "" {
		id, err := strconv.ParseInt(r.URL.Query().Get("entity_id"), 10, 64)
		if err != nil {
			h.jsonError(w, "invalid entity_id", http.StatusBadRequest)
			return
		}
		entries, err := h.engine.DB().ListEntityAudit(r.Context(), entityType, id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.jsonOK(w, entries)
		return
	}
	entries, err := h.engine.DB().ListAuditLog(r.Context(), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeError maps service errors onto status codes. Rejections leave no
// state behind, so 4xx answers are safe to correct and resend.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}
