// Package httpapi exposes the signal pipeline's external HTTP surface
// (§6): a health endpoint, per-(pair,timeframe) admin pause/resume, an
// on-demand signal lookup, and the dashboard WebSocket upgrade.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aifx/signalcore/internal/dispatch"
	"github.com/aifx/signalcore/internal/domain"
)

// Scheduler is the narrow view admin routes need; satisfied by
// *scheduler.Scheduler.
type Scheduler interface {
	Pause(pair domain.Pair, tf domain.Timeframe)
	Resume(pair domain.Pair, tf domain.Timeframe)
}

// SignalReader is the narrow view the signal-lookup route needs;
// satisfied by *store.Store.
type SignalReader interface {
	GetLatest(ctx context.Context, pair domain.Pair, tf domain.Timeframe) (*domain.Signal, error)
}

// Registry is the narrow view the subscription routes need; satisfied
// by *registry.Registry.
type Registry interface {
	Subscribe(ctx context.Context, subscriberID string, transport domain.Transport, pair domain.Pair, tf domain.Timeframe) error
	Unsubscribe(ctx context.Context, subscriberID string, transport domain.Transport, pair domain.Pair, tf domain.Timeframe) error
	UpdatePolicy(ctx context.Context, policy domain.SubscriberPolicy) error
}

// Dependencies are the components the HTTP surface calls into.
type Dependencies struct {
	Log       zerolog.Logger
	Scheduler Scheduler
	Store     SignalReader
	Registry  Registry
	WSHub     *dispatch.WebSocketHub
}

var startupTime = time.Now()

// NewServer builds the *http.Server; callers own ListenAndServe/Shutdown.
func NewServer(deps Dependencies, port int) *http.Server {
	h := &handlers{deps: deps, log: deps.Log.With().Str("component", "http_api").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/signals/{pair}/{timeframe}", h.handleGetLatestSignal)

		r.Route("/admin/pairs/{pair}/{timeframe}", func(r chi.Router) {
			r.Post("/pause", h.handlePause)
			r.Post("/resume", h.handleResume)
		})

		r.Post("/subscriptions", h.handleSubscribe)
		r.Delete("/subscriptions", h.handleUnsubscribe)
		r.Put("/subscriptions/policy", h.handleUpdatePolicy)

		r.Get("/ws", h.handleWebSocket)
	})

	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type handlers struct {
	deps Dependencies
	log  zerolog.Logger
}

func (h *handlers) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("encoding json response failed")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) handleGetLatestSignal(w http.ResponseWriter, r *http.Request) {
	pair := domain.Pair(chi.URLParam(r, "pair"))
	tf := domain.Timeframe(chi.URLParam(r, "timeframe"))

	sig, err := h.deps.Store.GetLatest(r.Context(), pair, tf)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sig == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no signal for this pair/timeframe"})
		return
	}
	h.writeJSON(w, http.StatusOK, sig)
}

func (h *handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	pair := domain.Pair(chi.URLParam(r, "pair"))
	tf := domain.Timeframe(chi.URLParam(r, "timeframe"))
	h.deps.Scheduler.Pause(pair, tf)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	pair := domain.Pair(chi.URLParam(r, "pair"))
	tf := domain.Timeframe(chi.URLParam(r, "timeframe"))
	h.deps.Scheduler.Resume(pair, tf)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type subscriptionRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Transport    string `json:"transport"`
	Pair         string `json:"pair"`
	Timeframe    string `json:"timeframe"`
}

func (h *handlers) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.deps.Registry.Subscribe(r.Context(), req.SubscriberID, domain.Transport(req.Transport), domain.Pair(req.Pair), domain.Timeframe(req.Timeframe))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
}

func (h *handlers) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.deps.Registry.Unsubscribe(r.Context(), req.SubscriberID, domain.Transport(req.Transport), domain.Pair(req.Pair), domain.Timeframe(req.Timeframe))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (h *handlers) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy domain.SubscriberPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Registry.UpdatePolicy(r.Context(), policy); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleWebSocket upgrades the request and joins the connection to the
// subscriber's and/or pair's room named by query parameters, per §6's
// dashboard socket contract.
func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	if subscriberID := r.URL.Query().Get("subscriber_id"); subscriberID != "" {
		h.deps.WSHub.Join(dispatch.UserRoom(subscriberID), conn)
	}
	if pair := r.URL.Query().Get("pair"); pair != "" {
		h.deps.WSHub.Join(dispatch.PairRoom(domain.Pair(pair)), conn)
	}
	defer h.deps.WSHub.Leave(conn)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
