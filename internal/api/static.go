package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stationwx/wxboard/pkg/logger"
)

// StaticFileHandler serves the dashboard frontend without caching
type StaticFileHandler struct {
	staticDir string
	logger    *logger.Logger
}

// NewStaticFileHandler creates a new static file handler
func NewStaticFileHandler(staticDir string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		staticDir: staticDir,
		logger:    log.Named("static-handler"),
	}
}

// ServeHTTP serves static files dynamically
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
	if path == "" || path == "." {
		path = "index.html"
	}

	fullPath := filepath.Join(h.staticDir, path)

	// Keep requests inside the static directory.
	absStaticDir, err := filepath.Abs(h.staticDir)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil || !strings.HasPrefix(absFullPath, absStaticDir) {
		h.logger.Warn("Rejected path outside static directory",
			logger.String("requested_path", r.URL.Path))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		indexPath := filepath.Join(fullPath, "index.html")
		if _, err := os.Stat(indexPath); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		fullPath = indexPath
	}

	// Served dynamically, never cached.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	h.logger.Debug("Serving static file", logger.String("file_path", fullPath))
	http.ServeFile(w, r, fullPath)
}
