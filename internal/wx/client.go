package wx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stationwx/wxboard/pkg/logger"
)

// Config holds the weather core configuration.
type Config struct {
	APIBaseURL             string            // aviationweather.gov data API (METAR + TAF)
	ASOSBaseURL            string            // IEM ASOS CSV service
	ASOSNetwork            string            // IEM network identifier, e.g. "WI_ASOS"
	RequestTimeoutSeconds  int
	MaxRetries             int
	UpstreamCacheTTLMin    int               // raw upstream response cache TTL
	PayloadTTLMin          int               // assembled payload cache TTL
	RefreshIntervalMinutes int               // background refresh cadence
	LookaheadHours         int               // forecast timeline length, clamped 1-48
	AlertLookaheadHours    int               // forecast alert scan window
	Overrides              map[string]string // station id -> TAF source station
}

// DefaultConfig returns the default weather core configuration.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:             "https://aviationweather.gov/api/data",
		ASOSBaseURL:            "https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py",
		ASOSNetwork:            "WI_ASOS",
		RequestTimeoutSeconds:  10,
		MaxRetries:             2,
		UpstreamCacheTTLMin:    10,
		PayloadTTLMin:          10,
		RefreshIntervalMinutes: 10,
		LookaheadHours:         DefaultLookaheadHours,
		AlertLookaheadHours:    DefaultAlertLookaheadHours,
		Overrides:              map[string]string{},
	}
}

// asosDataColumns are the fixed columns requested from the IEM service.
var asosDataColumns = []string{
	"vsby", "wdir", "sped", "gust", "tmpf",
	"skyc1", "skyc2", "skyc3", "skyc4",
	"skyl1", "skyl2", "skyl3", "skyl4",
}

// Client handles HTTP requests to the three upstream weather sources,
// serving byte-identical responses from the signature-keyed cache while
// fresh.
type Client struct {
	config     Config
	httpClient *http.Client
	respCache  *ResponseCache
	logger     *logger.Logger
}

// NewClient creates a new upstream weather client.
func NewClient(config Config, log *logger.Logger) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
		},
		respCache: NewResponseCache(time.Duration(config.UpstreamCacheTTLMin)*time.Minute, log),
		logger:    log.Named("wx-client"),
	}
}

// ResponseCache exposes the raw upstream cache (for purging and stats).
func (c *Client) ResponseCache() *ResponseCache {
	return c.respCache
}

// FetchMETARs fetches current observations for the given station ids.
func (c *Client) FetchMETARs(ctx context.Context, ids []string) ([]METAR, error) {
	u := fmt.Sprintf("%s/metar?ids=%s&format=json", c.config.APIBaseURL, strings.Join(ids, ","))

	body, err := c.fetchWithRetry(ctx, u, "metar")
	if err != nil {
		return nil, err
	}

	var metars []METAR
	if err := json.Unmarshal(body, &metars); err != nil {
		return nil, fmt.Errorf("error decoding METAR data: %w", err)
	}
	return metars, nil
}

// FetchTAFs fetches raw forecast records for the given station ids. The
// id list must already include override targets so borrowed timelines are
// available to the router.
func (c *Client) FetchTAFs(ctx context.Context, ids []string) ([]TAF, error) {
	u := fmt.Sprintf("%s/taf?ids=%s&format=json", c.config.APIBaseURL, strings.Join(ids, ","))

	body, err := c.fetchWithRetry(ctx, u, "taf")
	if err != nil {
		return nil, err
	}

	var tafs []TAF
	if err := json.Unmarshal(body, &tafs); err != nil {
		return nil, fmt.Errorf("error decoding TAF data: %w", err)
	}
	return tafs, nil
}

// FetchASOS fetches backup observations from the IEM network, reduced to
// the most recent row per station.
func (c *Client) FetchASOS(ctx context.Context, ids []string) ([]ASOSRow, error) {
	stations := make([]string, 0, len(ids))
	for _, id := range ids {
		stations = append(stations, ASOSStationID(id))
	}

	params := url.Values{}
	params.Set("network", c.config.ASOSNetwork)
	params.Set("stations", strings.Join(stations, ","))
	params.Set("data", strings.Join(asosDataColumns, ","))
	params.Set("hours", "6")
	params.Set("tz", "Etc/UTC")
	params.Set("format", "onlycomma")
	params.Set("missing", "M")
	params.Set("trace", "T")
	u := c.config.ASOSBaseURL + "?" + params.Encode()

	body, err := c.fetchWithRetry(ctx, u, "asos")
	if err != nil {
		return nil, err
	}

	rows, err := ParseASOS(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error decoding ASOS data: %w", err)
	}
	return rows, nil
}

// fetchWithRetry performs an HTTP GET with retry and exponential backoff.
// The full request URL is the cache signature: a fresh cached body is
// replayed without any network activity, and only 200 responses are ever
// stored.
func (c *Client) fetchWithRetry(ctx context.Context, u, kind string) ([]byte, error) {
	if body, ok := c.respCache.Get(u); ok {
		c.logger.Debug("Upstream cache hit",
			logger.String("type", kind),
			logger.Int("bytes", len(body)))
		return body, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying upstream fetch",
				logger.String("type", kind),
				logger.Int("attempt", attempt),
				logger.String("backoff", backoff.String()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.fetchOnce(ctx, u)
		if err == nil {
			c.respCache.Put(u, body)
			if attempt > 0 {
				c.logger.Info("Upstream fetch succeeded after retries",
					logger.String("type", kind),
					logger.Int("attempts_needed", attempt+1))
			}
			return body, nil
		}

		if ctx.Err() != nil {
			// Cooperative cancellation: bail out without counting this
			// as an upstream failure.
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn("Upstream fetch failed, may retry",
			logger.String("type", kind),
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.config.MaxRetries+1))
	}

	c.logger.Error("All attempts to fetch upstream data failed",
		logger.String("type", kind),
		logger.Error(lastErr),
		logger.Int("max_attempts", c.config.MaxRetries+1))
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error building upstream request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request to weather API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading upstream response: %w", err)
	}
	return body, nil
}
