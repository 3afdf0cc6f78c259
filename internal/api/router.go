package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stationwx/wxboard/internal/briefing"
	"github.com/stationwx/wxboard/internal/config"
	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/internal/websocket"
	"github.com/stationwx/wxboard/internal/wx"
	"github.com/stationwx/wxboard/pkg/logger"
)

// Router builds the HTTP routing table
type Router struct {
	handler *Handler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(wxService *wx.Service, stationManager *stations.Manager, briefingService *briefing.Service, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(wxService, stationManager, briefingService, wsServer, cfg, log),
		config:  cfg,
		logger:  log.Named("router"),
	}
}

// Routes assembles the chi routing table
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/briefing", rt.handler.GetBriefing)

		r.Route("/wx", func(r chi.Router) {
			r.Get("/", rt.handler.GetWx)
			r.Post("/refresh", rt.handler.PostRefresh)
			r.Delete("/cache", rt.handler.ClearCache)
			r.Get("/cache/stats", rt.handler.GetCacheStats)

			r.Get("/stations", rt.handler.GetStations)
			r.Post("/stations", rt.handler.AddStation)
			r.Delete("/stations/{id}", rt.handler.RemoveStation)
		})
	})

	r.Get("/ws", rt.handler.HandleWebSocket)

	// Everything else is the dashboard frontend.
	static := NewStaticFileHandler(rt.config.Server.StaticFilesDir, rt.logger)
	r.NotFound(static.ServeHTTP)

	return r
}

// corsMiddleware applies the configured CORS policy
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions && strings.HasPrefix(r.URL.Path, "/api/") {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
