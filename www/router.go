package www

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"

	"stockcore/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
	log      zerolog.Logger
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
		log:      eng.Logger().With().Str("component", "www").Logger(),
	}

	h.ensureDefaultAdmin()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	// SSE
	r.Get("/events", hub.SSEHandler)

	if eng.AppConfig().Web.Metrics {
		r.Handle("/metrics", eng.Metrics().Handler())
	}

	r.Post("/login", h.handleLogin)
	r.Get("/logout", h.handleLogout)

	// API routes (no auth required for read)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/audit", h.apiListAudit)
		r.Get("/orders", h.apiListOrders)
		r.Get("/orders/{id}", h.apiGetOrder)
		r.Get("/receipts", h.apiListReceipts)
		r.Get("/receipts/{id}", h.apiGetReceipt)
		r.Get("/tasks", h.apiListTasks)
		r.Get("/stock", h.apiListStock)
		r.Get("/materials", h.apiListMaterials)
		r.Get("/materials/{id}/stock", h.apiMaterialStock)
		r.Get("/materials/{id}/adjustments", h.apiListAdjustments)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/orders", h.apiSubmitOrder)
			r.Post("/orders/{id}/status", h.apiAdvanceOrder)
			r.Post("/orders/{id}/trash", h.apiTrashOrder)
			r.Post("/orders/{id}/untrash", h.apiUntrashOrder)
			r.Post("/receipts", h.apiCreateReceipt)
			r.Post("/receipts/{id}/post", h.apiPostReceipt)
			r.Post("/tasks/{id}/{action}", h.apiTaskAction)
			r.Post("/materials", h.apiCreateMaterial)
			r.Put("/materials/{id}", h.apiUpdateMaterial)
			r.Post("/materials/{id}/adjust", h.apiAdjustStock)
			r.Post("/materials/{id}/allocate", h.apiReconcile)
		})
	})

	stopFn := func() {
		hub.Stop()
	}

	return r, stopFn
}

// requestLogger logs one line per request, at a level picked by status.
func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = h.log.Error()
		case status >= 400:
			evt = h.log.Warn()
		default:
			evt = h.log.Debug()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin accepts a JSON body or a form post.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	user, err := h.engine.DB().GetAdminUser(r.Context(), req.Username)
	if err != nil || !checkPassword(user.PasswordHash, req.Password) {
		h.jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = req.Username
	if err := session.Save(r, w); err != nil {
		h.log.Error().Err(err).Msg("session save")
	}
	h.jsonOK(w, map[string]string{"username": req.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"status": "logged out"})
}

// ensureDefaultAdmin seeds admin/admin on an empty user table.
func (h *Handlers) ensureDefaultAdmin() {
	ctx := context.Background()
	db := h.engine.DB()
	exists, err := db.AdminUserExists(ctx)
	if err != nil || exists {
		return
	}
	hash, err := hashPassword("admin")
	if err != nil {
		return
	}
	if err := db.CreateAdminUser(ctx, "admin", hash); err != nil {
		h.log.Error().Err(err).Msg("create default admin")
		return
	}
	h.log.Warn().Msg("created default admin user, change its password")
}
