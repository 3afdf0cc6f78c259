package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/stationwx/wxboard/internal/ai/gemini"
	"github.com/stationwx/wxboard/internal/api"
	"github.com/stationwx/wxboard/internal/briefing"
	"github.com/stationwx/wxboard/internal/config"
	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/internal/storage/sqlite"
	"github.com/stationwx/wxboard/internal/websocket"
	"github.com/stationwx/wxboard/internal/wx"
	"github.com/stationwx/wxboard/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting wxboard server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// SQLite storage
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}
	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Station list
	defaults := make([]stations.Station, 0, len(cfg.Stations.Default))
	for _, entry := range cfg.Stations.Default {
		defaults = append(defaults, stations.Station{ID: entry.ID, Name: entry.Name})
	}
	stationManager := stations.NewManager(defaults, store, log)
	if err := stationManager.LoadAirportsCSV(cfg.Stations.AirportsDBPath); err != nil {
		log.Warn("Failed to load airports database", logger.Error(err))
	}
	if err := stationManager.Load(); err != nil {
		log.Warn("Failed to restore station list", logger.Error(err))
	}

	// WebSocket hub; the hub loop starts after the connect callback is
	// wired below
	wsServer := websocket.NewServer(log)

	// Weather service
	wxConfig := wx.Config{
		APIBaseURL:             cfg.Wx.APIBaseURL,
		ASOSBaseURL:            cfg.Wx.ASOSBaseURL,
		ASOSNetwork:            cfg.Wx.ASOSNetwork,
		RequestTimeoutSeconds:  cfg.Wx.RequestTimeoutSeconds,
		MaxRetries:             cfg.Wx.MaxRetries,
		UpstreamCacheTTLMin:    cfg.Wx.UpstreamCacheTTLMinutes,
		PayloadTTLMin:          cfg.Wx.PayloadTTLMinutes,
		RefreshIntervalMinutes: cfg.Wx.RefreshIntervalMinutes,
		LookaheadHours:         cfg.Wx.LookaheadHours,
		AlertLookaheadHours:    cfg.Wx.AlertLookaheadHours,
		Overrides:              normalizeOverrides(cfg.Wx.Overrides),
	}
	if err := wx.ValidateConfig(wxConfig); err != nil {
		log.Error("Invalid weather configuration", logger.Error(err))
		os.Exit(1)
	}

	wxService := wx.NewService(wxConfig, stationManager, store, wsServer, log)
	wsServer.SetOnConnect(wxService.OnClientConnected)
	go wsServer.Run()

	if err := wxService.Start(); err != nil {
		log.Error("Failed to start weather service", logger.Error(err))
		os.Exit(1)
	}

	// Optional AI briefing service
	var briefingService *briefing.Service
	if cfg.Briefing.Enabled {
		geminiClient, err := gemini.NewClient(context.Background(), cfg.Briefing.APIKey, log)
		if err != nil {
			log.Error("Failed to create briefing provider", logger.Error(err))
			// Continue without briefings rather than failing
		} else {
			briefingService = briefing.NewService(geminiClient, wxService, cfg.Briefing.Model, log)
			log.Info("Briefing service enabled")
		}
	}

	router := api.NewRouter(wxService, stationManager, briefingService, wsServer, cfg, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping weather service...")
	wxService.Stop()
	log.Info("Weather service stopped.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}

// normalizeOverrides canonicalizes the override map keys and targets the
// same way station ids are normalized.
func normalizeOverrides(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for id, target := range in {
		normID, okID := stations.Normalize(id)
		normTarget, okTarget := stations.Normalize(target)
		if okID && okTarget {
			out[normID] = normTarget
		}
	}
	return out
}
