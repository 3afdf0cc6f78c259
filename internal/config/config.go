package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Stations StationsConfig `toml:"stations"` // Default station list and airport database
	Wx       WxConfig       `toml:"wx"`       // Weather data fetching and caching settings
	Briefing BriefingConfig `toml:"briefing"` // AI weather briefing settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (["*"] for all)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve the dashboard frontend from (e.g., "www")
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// StationEntry is one default station list entry
type StationEntry struct {
	ID   string `toml:"id"`   // ICAO-like station id, e.g. "KMSN"
	Name string `toml:"name"` // Display name; resolved from the airports database when empty
}

// StationsConfig contains the built-in default station list and the
// optional airports database used for name/coordinate enrichment
type StationsConfig struct {
	Default        []StationEntry `toml:"default"`          // Built-in station list used when no persisted list exists
	AirportsDBPath string         `toml:"airports_db_path"` // Path to airport database CSV file (OurAirports format), optional
}

// WxConfig contains weather fetching, caching and classification settings
type WxConfig struct {
	APIBaseURL              string            `toml:"api_base_url"`               // aviationweather.gov data API base URL (METAR + TAF)
	ASOSBaseURL             string            `toml:"asos_base_url"`              // IEM ASOS CSV service URL
	ASOSNetwork             string            `toml:"asos_network"`               // IEM network identifier, e.g. "WI_ASOS"
	RequestTimeoutSeconds   int               `toml:"request_timeout_seconds"`    // Per-request upstream timeout
	MaxRetries              int               `toml:"max_retries"`                // Upstream fetch retries (0 = single attempt)
	UpstreamCacheTTLMinutes int               `toml:"upstream_cache_ttl_minutes"` // Raw upstream response cache TTL
	PayloadTTLMinutes       int               `toml:"payload_ttl_minutes"`        // Assembled payload cache TTL
	RefreshIntervalMinutes  int               `toml:"refresh_interval_minutes"`   // Background refresh cadence
	LookaheadHours          int               `toml:"lookahead_hours"`            // Forecast timeline length (1-48)
	AlertLookaheadHours     int               `toml:"alert_lookahead_hours"`      // Forecast alert scan window
	Overrides               map[string]string `toml:"overrides"`                  // Stations that borrow another station's TAF
}

// BriefingConfig contains the optional AI briefing settings
type BriefingConfig struct {
	Enabled bool   `toml:"enabled"` // Enable the /briefing endpoint
	APIKey  string `toml:"api_key"` // Gemini API key
	Model   string `toml:"model"`   // Gemini model name (empty = provider default)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "127.0.0.1",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   30,
			IdleTimeoutSecs:    60,
			StaticFilesDir:     "www",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			SQLitePath: "data/wxboard.db",
		},
		Stations: StationsConfig{
			Default: []StationEntry{
				{ID: "KMSN", Name: "Madison"},
				{ID: "KUES", Name: "Waukesha"},
				{ID: "KMKE", Name: "Milwaukee"},
				{ID: "KUNU", Name: "Juneau"},
			},
		},
		Wx: WxConfig{
			APIBaseURL:              "https://aviationweather.gov/api/data",
			ASOSBaseURL:             "https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py",
			ASOSNetwork:             "WI_ASOS",
			RequestTimeoutSeconds:   10,
			MaxRetries:              2,
			UpstreamCacheTTLMinutes: 10,
			PayloadTTLMinutes:       10,
			RefreshIntervalMinutes:  10,
			LookaheadHours:          24,
			AlertLookaheadHours:     6,
			Overrides: map[string]string{
				// Fields without a local TAF borrow the nearest terminal forecast.
				"KUNU": "KUES",
			},
		},
	}
}

// Load reads a TOML configuration file, layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithFallback loads the preferred path when given, otherwise
// searches configs/ and the working directory, otherwise runs on
// defaults alone.
func LoadWithFallback(preferredPath string) (*Config, error) {
	if preferredPath != "" {
		return Load(preferredPath)
	}

	candidates := []string{
		filepath.Join("configs", "config.toml"),
		"config.toml",
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}

	return Default(), nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	for _, port := range c.Server.AdditionalPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid additional port: %d", port)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path cannot be empty")
	}

	if len(c.Stations.Default) == 0 {
		return fmt.Errorf("stations default list cannot be empty")
	}

	if err := c.ValidateWx(); err != nil {
		return err
	}

	if c.Briefing.Enabled && c.Briefing.APIKey == "" {
		return fmt.Errorf("briefing enabled but api_key is empty")
	}

	return nil
}

// ValidateWx checks the weather section
func (c *Config) ValidateWx() error {
	w := c.Wx
	if w.APIBaseURL == "" {
		return fmt.Errorf("wx api_base_url cannot be empty")
	}
	if w.ASOSBaseURL == "" {
		return fmt.Errorf("wx asos_base_url cannot be empty")
	}
	if w.ASOSNetwork == "" {
		return fmt.Errorf("wx asos_network cannot be empty")
	}
	if w.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("wx request_timeout_seconds must be greater than 0")
	}
	if w.MaxRetries < 0 {
		return fmt.Errorf("wx max_retries must be 0 or greater")
	}
	if w.UpstreamCacheTTLMinutes <= 0 {
		return fmt.Errorf("wx upstream_cache_ttl_minutes must be greater than 0")
	}
	if w.PayloadTTLMinutes <= 0 {
		return fmt.Errorf("wx payload_ttl_minutes must be greater than 0")
	}
	if w.RefreshIntervalMinutes <= 0 {
		return fmt.Errorf("wx refresh_interval_minutes must be greater than 0")
	}
	if w.LookaheadHours < 1 || w.LookaheadHours > 48 {
		return fmt.Errorf("wx lookahead_hours must be between 1 and 48")
	}
	if w.AlertLookaheadHours <= 0 {
		return fmt.Errorf("wx alert_lookahead_hours must be greater than 0")
	}
	return nil
}
