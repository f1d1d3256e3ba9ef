package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ztimer/internal/domain"
	"github.com/ztimer/internal/timer"
	"github.com/ztimer/internal/websocket"
)

// Handler provides HTTP handlers for the timer API
type Handler struct {
	manager *timer.Manager
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(manager *timer.Manager, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// actorRequest carries the player's display name alongside the path id.
type actorRequest struct {
	PlayerName string `json:"player_name"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players/{playerID}", func(r chi.Router) {
			r.Post("/connect", h.Connect)
			r.Post("/disconnect", h.Disconnect)

			r.Route("/timers/{timerID}", func(r chi.Router) {
				r.Post("/start", h.StartTimer)
				r.Post("/stop", h.StopTimer)
				r.Post("/cancel", h.CancelTimer)
				r.Post("/reset", h.ResetTimer)

				r.Get("/best", h.GetBestTime)
				r.Get("/elapsed", h.GetElapsed)
				r.Get("/active", h.GetActive)
			})
		})

		r.Route("/timers/{timerID}", func(r chi.Router) {
			r.Get("/leaderboard", h.GetLeaderboard)
			r.Get("/active", h.GetAnyActive)
			r.Post("/reset", h.ResetTimerGlobal)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// actor resolves the player id from the path and the display name from the
// request body. The body is optional on queries; mutations should carry it
// so stored names stay fresh.
func (h *Handler) actor(r *http.Request) (domain.Actor, error) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		return domain.Actor{}, domain.ErrInvalidRequest
	}

	var req actorRequest
	if r.Body != nil {
		// Ignore decode errors: an empty body is a valid request.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return domain.Actor{ID: playerID, Name: req.PlayerName}, nil
}

func (h *Handler) playerID(r *http.Request) (uuid.UUID, error) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		return uuid.Nil, domain.ErrInvalidRequest
	}
	return playerID, nil
}

// handleTimerErr maps engine errors onto HTTP statuses.
func (h *Handler) handleTimerErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTimerID), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// StartTimer begins a timer run for a player
func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.Start(actor, chi.URLParam(r, "timerID")); err != nil {
		h.handleTimerErr(w, "start timer", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "started"})
}

// StopTimer ends a timer run and returns the elapsed time
func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	elapsed, err := h.manager.Stop(actor, chi.URLParam(r, "timerID"))
	if err != nil {
		h.handleTimerErr(w, "stop timer", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"elapsed_ms": elapsed,
		"formatted":  h.manager.FormatMillis(elapsed),
	})
}

// CancelTimer abandons a timer run with no record
func (h *Handler) CancelTimer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.Cancel(actor, chi.URLParam(r, "timerID")); err != nil {
		h.handleTimerErr(w, "cancel timer", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "canceled"})
}

// ResetTimer clears a player's run and best time for a timer
func (h *Handler) ResetTimer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.Reset(actor, chi.URLParam(r, "timerID")); err != nil {
		h.handleTimerErr(w, "reset timer", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset"})
}

// ResetTimerGlobal deletes every best time for a timer
func (h *Handler) ResetTimerGlobal(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ResetGlobal(chi.URLParam(r, "timerID")); err != nil {
		h.handleTimerErr(w, "reset timer globally", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset"})
}

// Connect handles a player session starting
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.manager.HandleReconnect(actor)
	h.writeSuccess(w, map[string]string{"status": "connected"})
}

// Disconnect handles a player session ending
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.manager.HandleDisconnect(actor)
	h.writeSuccess(w, map[string]string{"status": "disconnected"})
}

// GetBestTime returns a player's best recorded time for a timer
func (h *Handler) GetBestTime(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.playerID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	timerID := chi.URLParam(r, "timerID")
	millis, ok := h.manager.BestTime(playerID, timerID)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrNoBestTime)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"best_millis": millis,
		"formatted":   h.manager.FormatMillis(millis),
	})
}

// GetElapsed returns the elapsed time of a player's running timer
func (h *Handler) GetElapsed(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.playerID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	elapsed, ok := h.manager.CurrentElapsed(playerID, chi.URLParam(r, "timerID"))
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrNotRunning)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"elapsed_ms": elapsed,
		"formatted":  h.manager.FormatMillis(elapsed),
	})
}

// GetActive reports whether a player is running a timer
func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.playerID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	h.writeSuccess(w, map[string]bool{
		"active": h.manager.IsActive(playerID, chi.URLParam(r, "timerID")),
	})
}

// GetAnyActive reports whether anyone is running the timer
func (h *Handler) GetAnyActive(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]bool{
		"active": h.manager.IsAnyActive(chi.URLParam(r, "timerID")),
	})
}

// GetLeaderboard returns the ranked top entries for a timer
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries := h.manager.Leaderboard(chi.URLParam(r, "timerID"))

	ranked := make([]websocket.RankedEntry, len(entries))
	for i, e := range entries {
		ranked[i] = websocket.RankedEntry{
			Rank:       i + 1,
			PlayerID:   e.PlayerID.String(),
			PlayerName: e.PlayerName,
			BestMillis: e.BestMillis,
		}
	}

	h.writeSuccess(w, ranked)
}
