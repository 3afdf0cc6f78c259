package wx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/pkg/logger"
)

// ErrRefreshInFlight is returned when a refresh request arrives while
// another cycle is active. Such requests are dropped, not queued.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// SnapshotStore persists the latest assembled payload across restarts.
type SnapshotStore interface {
	SaveSnapshot(savedAt time.Time, stationsSig string, payload []byte) error
	LoadSnapshot() (savedAt time.Time, stationsSig string, payload []byte, err error)
	ClearSnapshot() error
}

// Broadcaster pushes refresh notifications to connected dashboard
// clients and reports how many are connected.
type Broadcaster interface {
	Broadcast(msgType string, data map[string]any)
	ClientCount() int
}

// StationWx is the fully-resolved display record for one airport.
type StationWx struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Category    Category            `json:"category"`
	Observation ObservationSnapshot `json:"observation"`
	Timeline    Timeline            `json:"timeline"`
	Alerts      []Alert             `json:"alerts,omitempty"`
	MagVarDeg   *float64            `json:"mag_var_deg,omitempty"`
}

// Dashboard is what the render target consumes: one record per station
// in list order, plus the combined alert list. FetchErrors is populated
// when the latest refresh failed and a previous payload is being shown.
type Dashboard struct {
	FetchedAt   time.Time   `json:"fetched_at"`
	Stale       bool        `json:"stale,omitempty"`
	Stations    []StationWx `json:"stations"`
	Alerts      []Alert     `json:"alerts"`
	FetchErrors []string    `json:"fetch_errors,omitempty"`
}

// Service owns the weather refresh lifecycle: the single-slot payload
// cache, the one-at-a-time refresh cycle, the background refresh ticker,
// and display assembly. All shared state is confined to this service.
type Service struct {
	config       Config
	client       *Client
	payloadCache *PayloadCache
	stations     *stations.Manager
	store        SnapshotStore
	broadcaster  Broadcaster
	logger       *logger.Logger

	// Service lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.RWMutex

	// Refresh cycle state: at most one cycle in flight, and an explicit
	// refresh cancels the previous cycle before starting its own.
	inFlight    atomic.Bool
	cycleCancel context.CancelFunc
	cycleDone   chan struct{}
	cycleMu     sync.Mutex
}

// NewService creates the weather service.
func NewService(config Config, stationMgr *stations.Manager, store SnapshotStore, broadcaster Broadcaster, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:       config,
		client:       NewClient(config, log),
		payloadCache: NewPayloadCache(time.Duration(config.PayloadTTLMin)*time.Minute, log),
		stations:     stationMgr,
		store:        store,
		broadcaster:  broadcaster,
		logger:       log.Named("wx-service"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start restores the persisted snapshot and begins background refresh.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting weather service",
		logger.Int("stations", len(s.stations.IDs())),
		logger.Int("refresh_interval_minutes", s.config.RefreshIntervalMinutes))

	s.restoreSnapshot()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.refresh(false); err != nil && !errors.Is(err, ErrRefreshInFlight) && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Initial weather refresh failed", logger.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.backgroundRefresh()
	}()

	s.started = true
	return nil
}

// Stop cancels all background work and waits for it to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping weather service")
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("Weather service stopped")
	return nil
}

// Dashboard returns the assembled display state. A fresh cached payload
// renders with no upstream activity; a stale or absent cache forces a
// full refresh cycle. When the refresh fails, the previous payload is
// returned with the error attached rather than a partial render.
func (s *Service) Dashboard(force bool) (*Dashboard, error) {
	sig := s.stations.Signature()

	if !force {
		if payload, ok := s.payloadCache.Get(sig); ok {
			return s.assembleDashboard(payload), nil
		}
	}

	payload, err := s.refresh(force)
	if err != nil {
		last := s.payloadCache.Last()
		if last == nil {
			return nil, err
		}
		dash := s.assembleDashboard(last)
		dash.Stale = true
		if !errors.Is(err, ErrRefreshInFlight) {
			dash.FetchErrors = append(dash.FetchErrors, err.Error())
		}
		return dash, nil
	}

	return s.assembleDashboard(payload), nil
}

// RefreshNow triggers an explicit asynchronous refresh, cancelling any
// cycle already in flight.
func (s *Service) RefreshNow() {
	s.logger.Info("Manual weather refresh triggered")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.refresh(true); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Manual refresh failed", logger.Error(err))
		}
	}()
}

// OnClientConnected is invoked by the WebSocket hub when a dashboard
// client attaches. If the cache is stale an opportunistic refresh fires;
// if a cycle is already running the request is simply dropped.
func (s *Service) OnClientConnected() {
	if _, ok := s.payloadCache.Get(s.stations.Signature()); ok {
		return
	}
	s.logger.Debug("Client connected with stale cache, refreshing")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.refresh(false)
	}()
}

// InvalidateCache clears the payload cache and the persisted snapshot.
// Upstream response caching is unaffected.
func (s *Service) InvalidateCache() {
	s.payloadCache.Invalidate()
	if s.store != nil {
		if err := s.store.ClearSnapshot(); err != nil {
			s.logger.Warn("Failed to clear persisted snapshot", logger.Error(err))
		}
	}
}

// CacheStats returns diagnostics for both cache tiers.
func (s *Service) CacheStats() map[string]any {
	stats := s.payloadCache.Stats()
	stats["upstream_entries"] = s.client.ResponseCache().Len()
	stats["stations_sig"] = s.stations.Signature()
	return stats
}

// refresh runs one complete assembly cycle. Only one cycle may be in
// flight: concurrent requests are dropped with ErrRefreshInFlight. An
// explicit refresh first cancels the active cycle and waits for it to
// release the slot, then runs its own; the cancelled cycle publishes
// nothing.
func (s *Service) refresh(explicit bool) (*Payload, error) {
	if explicit {
		s.cancelActiveCycle()
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("Refresh dropped, cycle already in flight")
		return nil, ErrRefreshInFlight
	}

	// The slot is free by the time done closes, so a preempting refresh
	// that waited on done can claim it.
	done := make(chan struct{})
	defer close(done)
	defer s.inFlight.Store(false)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.cycleMu.Lock()
	s.cycleCancel = cancel
	s.cycleDone = done
	s.cycleMu.Unlock()

	start := time.Now()
	ids := s.stations.IDs()
	sig := s.stations.Signature()
	tafIDs := WithOverrideTargets(ids, s.config.Overrides)

	s.logger.Debug("Fetching weather data",
		logger.Int("stations", len(ids)),
		logger.Int("taf_stations", len(tafIDs)))

	payload, err := s.client.AssemblePayload(ctx, ids, tafIDs, s.config.LookaheadHours, time.Now())
	if err != nil {
		if ctx.Err() != nil {
			// Aborted cycle: swallowed, no partial results are used.
			s.logger.Debug("Refresh cycle cancelled")
			return nil, context.Canceled
		}
		s.logger.Error("Weather refresh failed", logger.Error(err))
		return nil, err
	}

	s.payloadCache.Set(payload, sig)
	s.persistSnapshot(payload, sig)
	s.client.ResponseCache().Purge()

	if s.broadcaster != nil {
		s.broadcaster.Broadcast("wx_update", map[string]any{
			"fetched_at": payload.FetchedAt,
		})
	}

	s.logger.Info("Weather refresh completed",
		logger.Int("stations", len(ids)),
		logger.Duration("duration", time.Since(start)))
	return payload, nil
}

// cancelActiveCycle aborts the in-flight cycle, if any, and waits until
// it has released the refresh slot.
func (s *Service) cancelActiveCycle() {
	s.cycleMu.Lock()
	cancel := s.cycleCancel
	done := s.cycleDone
	s.cycleCancel = nil
	s.cycleDone = nil
	s.cycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// backgroundRefresh runs the periodic refresh. Ticks are skipped while
// no dashboard client is connected; freshness then catches up via
// OnClientConnected. This is a debouncing policy, not a guarantee.
func (s *Service) backgroundRefresh() {
	interval := time.Duration(s.config.RefreshIntervalMinutes) * time.Minute
	if interval < time.Minute {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Background weather refresh started",
		logger.String("interval", interval.String()))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Background weather refresh stopped")
			return
		case <-ticker.C:
			if s.broadcaster != nil && s.broadcaster.ClientCount() == 0 {
				s.logger.Debug("No dashboard clients connected, skipping refresh")
				continue
			}
			if _, err := s.refresh(false); err != nil && !errors.Is(err, ErrRefreshInFlight) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Periodic refresh failed", logger.Error(err))
			}
		}
	}
}

// assembleDashboard merges a payload with the current station list into
// per-station display records, routing timelines through the override
// map and deriving alerts in station order.
func (s *Service) assembleDashboard(payload *Payload) *Dashboard {
	now := time.Now()
	list := s.stations.List()

	metarByID := make(map[string]*METAR, len(payload.METARs))
	for i := range payload.METARs {
		m := &payload.METARs[i]
		if _, seen := metarByID[m.ICAOID]; !seen {
			metarByID[m.ICAOID] = m
		}
	}
	asosByID := make(map[string]*ASOSRow, len(payload.ASOS))
	for i := range payload.ASOS {
		r := &payload.ASOS[i]
		if _, seen := asosByID[r.Station]; !seen {
			asosByID[r.Station] = r
		}
	}
	timelineByID := make(map[string]Timeline, len(payload.Timelines))
	for _, tl := range payload.Timelines {
		if _, seen := timelineByID[tl.ICAOID]; !seen {
			timelineByID[tl.ICAOID] = tl
		}
	}

	dash := &Dashboard{
		FetchedAt: payload.FetchedAt,
		Stations:  make([]StationWx, 0, len(list)),
		Alerts:    []Alert{},
	}

	for _, st := range list {
		obs := ResolveObservation(metarByID[st.ID], asosByID[ASOSStationID(st.ID)], now)
		timeline := ResolveTimeline(st.ID, s.config.Overrides, timelineByID)

		name := st.Name
		if name == "" {
			if m := metarByID[st.ID]; m != nil && m.Name != "" {
				name = m.Name
			} else {
				name = st.ID
			}
		}

		record := StationWx{
			ID:          st.ID,
			Name:        name,
			Category:    obs.Category(),
			Observation: obs,
			Timeline:    timeline,
		}
		if st.Lat != nil && st.Lon != nil {
			magvar := MagneticVariation(*st.Lat, *st.Lon, now)
			record.MagVarDeg = &magvar
		}

		record.Alerts = DeriveStationAlerts(st.ID, name, record.Category, timeline, s.config.AlertLookaheadHours)
		dash.Alerts = append(dash.Alerts, record.Alerts...)
		dash.Stations = append(dash.Stations, record)
	}

	return dash
}

// restoreSnapshot warm-starts the payload cache from the persisted
// snapshot. Any parse failure or missing field is a cache miss, never an
// error.
func (s *Service) restoreSnapshot() {
	if s.store == nil {
		return
	}

	savedAt, sig, raw, err := s.store.LoadSnapshot()
	if err != nil || len(raw) == 0 {
		if err != nil {
			s.logger.Warn("Failed to load persisted snapshot", logger.Error(err))
		}
		return
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("Corrupt persisted snapshot, treating as cache miss", logger.Error(err))
		return
	}
	if payload.FetchedAt.IsZero() {
		return
	}

	s.payloadCache.Restore(&payload, sig, savedAt)
	s.logger.Info("Restored persisted weather snapshot",
		logger.Time("saved_at", savedAt),
		logger.String("stations_sig", sig))
}

func (s *Service) persistSnapshot(payload *Payload, sig string) {
	if s.store == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("Failed to serialize snapshot", logger.Error(err))
		return
	}
	if err := s.store.SaveSnapshot(time.Now(), sig, raw); err != nil {
		s.logger.Warn("Failed to persist snapshot", logger.Error(err))
	}
}

// ValidateConfig validates the weather core configuration.
func ValidateConfig(config Config) error {
	if config.APIBaseURL == "" {
		return fmt.Errorf("api_base_url cannot be empty")
	}
	if config.ASOSBaseURL == "" {
		return fmt.Errorf("asos_base_url cannot be empty")
	}
	if config.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be greater than 0")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be 0 or greater")
	}
	if config.UpstreamCacheTTLMin <= 0 || config.PayloadTTLMin <= 0 {
		return fmt.Errorf("cache TTLs must be greater than 0")
	}
	if config.LookaheadHours < MinLookaheadHours || config.LookaheadHours > MaxLookaheadHours {
		return fmt.Errorf("lookahead_hours must be between %d and %d", MinLookaheadHours, MaxLookaheadHours)
	}
	if config.AlertLookaheadHours <= 0 {
		return fmt.Errorf("alert_lookahead_hours must be greater than 0")
	}
	for id, target := range config.Overrides {
		if _, ok := stations.Normalize(id); !ok {
			return fmt.Errorf("invalid override station id: %q", id)
		}
		if _, ok := stations.Normalize(target); !ok {
			return fmt.Errorf("invalid override target for %s: %q", id, target)
		}
	}
	return nil
}
