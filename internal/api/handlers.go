package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stationwx/wxboard/internal/briefing"
	"github.com/stationwx/wxboard/internal/config"
	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/internal/websocket"
	"github.com/stationwx/wxboard/internal/wx"
	"github.com/stationwx/wxboard/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	wxService       *wx.Service
	stationManager  *stations.Manager
	briefingService *briefing.Service
	wsServer        *websocket.Server
	config          *config.Config
	logger          *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(wxService *wx.Service, stationManager *stations.Manager, briefingService *briefing.Service, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		wxService:       wxService,
		stationManager:  stationManager,
		briefingService: briefingService,
		wsServer:        wsServer,
		config:          cfg,
		logger:          log.Named("api-handler"),
	}
}

// GetWx returns the assembled dashboard payload. A fresh cached payload
// is served without upstream activity; ?refresh=1 forces a new cycle.
func (h *Handler) GetWx(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"

	dash, err := h.wxService.Dashboard(force)
	if err != nil {
		// No previous payload to fall back on.
		w.Header().Set("Cache-Control", "no-store")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	if len(dash.FetchErrors) > 0 || dash.Stale {
		w.Header().Set("Cache-Control", "no-store")
	}
	WriteJSON(w, http.StatusOK, dash)
}

// GetStations returns the current station list
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.stationManager.List())
}

// AddStation appends a station to the list
func (h *Handler) AddStation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := h.stationManager.Add(req.ID, req.Name)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.wsServer.Broadcast(websocket.MessageTypeStationsChanged, map[string]any{
		"stations": h.stationManager.IDs(),
	})
	WriteJSON(w, http.StatusCreated, st)
}

// RemoveStation deletes a station by id
func (h *Handler) RemoveStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	removed, err := h.stationManager.Remove(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		WriteError(w, http.StatusNotFound, "station not found")
		return
	}

	h.wsServer.Broadcast(websocket.MessageTypeStationsChanged, map[string]any{
		"stations": h.stationManager.IDs(),
	})
	WriteJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// PostRefresh triggers an explicit refresh cycle, cancelling any cycle
// already in flight
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	h.wxService.RefreshNow()
	WriteJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// ClearCache invalidates the payload cache and the persisted snapshot
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.wxService.InvalidateCache()
	WriteJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// GetCacheStats returns cache diagnostics
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.wxService.CacheStats())
}

// GetBriefing returns the AI weather briefing for the current payload
func (h *Handler) GetBriefing(w http.ResponseWriter, r *http.Request) {
	if h.briefingService == nil {
		WriteError(w, http.StatusNotFound, "briefing disabled")
		return
	}

	text, fetchedAt, err := h.briefingService.Briefing(r.Context())
	if err != nil {
		h.logger.Warn("Briefing generation failed", logger.Error(err))
		WriteError(w, http.StatusBadGateway, "briefing unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"briefing":   text,
		"fetched_at": fetchedAt,
	})
}

// GetHealth returns service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"clients":   h.wsServer.ClientCount(),
	})
}

// HandleWebSocket upgrades the request to a dashboard WebSocket client
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes a JSON error envelope
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{"error": message})
}
