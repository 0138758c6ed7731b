package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.Tracker().List(r.Context(), r.URL.Query().Get("status"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, tasks)
}

// apiTaskAction applies start or complete to a task.
func (h *Handlers) apiTaskAction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	task, err := h.engine.Tracker().Mutate(r.Context(), id, chi.URLParam(r, "action"), h.actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonOK(w, task)
}
