package wx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stationwx/wxboard/internal/stations"
)

// memStore is an in-memory snapshot store.
type memStore struct {
	mu      sync.Mutex
	savedAt time.Time
	sig     string
	payload []byte
}

func (s *memStore) SaveSnapshot(savedAt time.Time, sig string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedAt, s.sig, s.payload = savedAt, sig, payload
	return nil
}

func (s *memStore) LoadSnapshot() (time.Time, string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedAt, s.sig, s.payload, nil
}

func (s *memStore) ClearSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedAt, s.sig, s.payload = time.Time{}, "", nil
	return nil
}

// fakeBroadcaster records broadcasts and reports a fixed client count.
type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []string
	clients  int
}

func (b *fakeBroadcaster) Broadcast(msgType string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgType)
}

func (b *fakeBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients
}

func (b *fakeBroadcaster) messageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func upstreamStub(t *testing.T) *httptest.Server {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Hour)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metar":
			w.Write([]byte(`[{"icaoId":"KMSN","name":"Madison","visib":0.5,"obsTime":` +
				fmt.Sprint(now.Unix()) + `,"clouds":[{"cover":"OVC","base":300}]}]`))
		case "/taf":
			fmt.Fprintf(w, `[{"icaoId":"KMSN","fcsts":[{"timeFrom":%d,"timeTo":%d,"fltCat":"IFR"}]}]`,
				now.Unix(), now.Add(48*time.Hour).Unix())
		default:
			w.Write([]byte("station,valid,vsby\n"))
		}
	}))
}

func testService(t *testing.T, upstream string, store SnapshotStore, bc Broadcaster) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIBaseURL = upstream
	cfg.ASOSBaseURL = upstream
	cfg.MaxRetries = 0
	cfg.Overrides = map[string]string{"KUNU": "KUES"}

	mgr := stations.NewManager([]stations.Station{{ID: "KMSN", Name: "Madison"}}, nil, testLogger(t))
	return NewService(cfg, mgr, store, bc, testLogger(t))
}

func TestServiceDashboard(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	bc := &fakeBroadcaster{clients: 1}
	svc := testService(t, srv.URL, nil, bc)

	dash, err := svc.Dashboard(false)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if len(dash.Stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(dash.Stations))
	}

	st := dash.Stations[0]
	if st.ID != "KMSN" || st.Name != "Madison" {
		t.Errorf("station = %s/%s, want KMSN/Madison", st.ID, st.Name)
	}
	if st.Category != CategoryLIFR {
		t.Errorf("category = %v, want lifr (0.5sm, OVC003)", st.Category)
	}
	if st.Observation.Source != SourceMETAR {
		t.Errorf("observation source = %v, want metar", st.Observation.Source)
	}
	if st.Timeline.Empty() {
		t.Error("timeline empty, want forecast slots")
	}
	if st.Timeline.Slots[0].Category != CategoryIFR {
		t.Errorf("first slot category = %v, want ifr from upstream hint", st.Timeline.Slots[0].Category)
	}

	// One now alert plus one forecast alert.
	if len(dash.Alerts) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(dash.Alerts), dash.Alerts)
	}
	if dash.Alerts[0].Type != AlertNow || dash.Alerts[1].Type != AlertForecast {
		t.Errorf("alert types = %v, %v", dash.Alerts[0].Type, dash.Alerts[1].Type)
	}

	if n := bc.messageCount(); n != 1 {
		t.Errorf("broadcast %d messages, want 1 wx_update", n)
	}

	// Second call is served from the payload cache: no new broadcast.
	if _, err := svc.Dashboard(false); err != nil {
		t.Fatalf("cached Dashboard failed: %v", err)
	}
	if n := bc.messageCount(); n != 1 {
		t.Errorf("cached read triggered a refresh (broadcasts = %d)", n)
	}
}

func TestExplicitRefreshPreemptsActiveCycle(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)

	var stall atomic.Bool
	stall.Store(true)
	entered := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if stall.Load() {
			select {
			case entered <- struct{}{}:
			default:
			}
			// Hold the request open until the cycle is cancelled.
			<-r.Context().Done()
			return
		}
		switch r.URL.Path {
		case "/metar":
			w.Write([]byte(`[{"icaoId":"KMSN","visib":10}]`))
		case "/taf":
			fmt.Fprintf(w, `[{"icaoId":"KMSN","fcsts":[{"timeFrom":%d,"timeTo":%d,"visib":6}]}]`,
				now.Unix(), now.Add(48*time.Hour).Unix())
		default:
			w.Write([]byte("station,valid,vsby\n"))
		}
	}))
	defer srv.Close()

	svc := testService(t, srv.URL, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.refresh(false)
		errCh <- err
	}()

	// Wait until the background cycle is blocked upstream, then let the
	// next round of requests through.
	<-entered
	stall.Store(false)

	payload, err := svc.refresh(true)
	if err != nil {
		t.Fatalf("explicit refresh did not run after preempting the active cycle: %v", err)
	}
	if payload == nil || len(payload.METARs) != 1 {
		t.Errorf("explicit refresh payload = %+v", payload)
	}

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("preempted cycle returned %v, want context.Canceled", err)
	}
}

func TestServiceDashboardFallbackOnFailure(t *testing.T) {
	var failing bool
	var mu sync.Mutex
	now := time.Now().UTC().Truncate(time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		down := failing
		mu.Unlock()
		if down {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.URL.Path {
		case "/metar":
			w.Write([]byte(`[{"icaoId":"KMSN","visib":10}]`))
		case "/taf":
			fmt.Fprintf(w, `[{"icaoId":"KMSN","fcsts":[{"timeFrom":%d,"timeTo":%d,"visib":6}]}]`,
				now.Unix(), now.Add(48*time.Hour).Unix())
		default:
			w.Write([]byte("station,valid,vsby\n"))
		}
	}))
	defer srv.Close()

	svc := testService(t, srv.URL, nil, nil)

	if _, err := svc.Dashboard(false); err != nil {
		t.Fatalf("initial Dashboard failed: %v", err)
	}

	mu.Lock()
	failing = true
	mu.Unlock()

	// Age out the raw upstream tier so the forced refresh actually goes
	// back to the (now failing) upstream instead of replaying bodies.
	svc.client.respCache.now = func() time.Time { return time.Now().Add(time.Hour) }

	// Force bypasses the fresh cache; the failed refresh falls back to the
	// previous payload instead of a partial render.
	dash, err := svc.Dashboard(true)
	if err != nil {
		t.Fatalf("Dashboard with failing upstream returned error despite fallback: %v", err)
	}
	if !dash.Stale {
		t.Error("fallback dashboard not marked stale")
	}
	if len(dash.FetchErrors) == 0 {
		t.Error("fallback dashboard carries no fetch errors")
	}
	if len(dash.Stations) != 1 {
		t.Errorf("fallback dashboard lost station data: %+v", dash.Stations)
	}
}

func TestServiceDashboardNoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL, nil, nil)
	if _, err := svc.Dashboard(false); err == nil {
		t.Fatal("expected error with no previous payload to fall back on")
	}
}

func TestServiceSnapshotRoundTrip(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	store := &memStore{}
	svc := testService(t, srv.URL, store, nil)

	if _, err := svc.Dashboard(false); err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}

	store.mu.Lock()
	raw := append([]byte(nil), store.payload...)
	sig := store.sig
	store.mu.Unlock()
	if len(raw) == 0 {
		t.Fatal("refresh did not persist a snapshot")
	}
	if sig != "KMSN" {
		t.Errorf("persisted signature = %q, want KMSN", sig)
	}
	var persisted Payload
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("persisted snapshot does not decode: %v", err)
	}
	if len(persisted.METARs) != 1 {
		t.Errorf("persisted payload METARs = %+v", persisted.METARs)
	}

	// A fresh service instance warm-starts from the snapshot and serves
	// the dashboard without touching upstream.
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("warm-started service hit upstream")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer downstream.Close()

	svc2 := testService(t, downstream.URL, store, nil)
	svc2.restoreSnapshot()
	dash, err := svc2.Dashboard(false)
	if err != nil {
		t.Fatalf("warm-started Dashboard failed: %v", err)
	}
	if len(dash.Stations) != 1 || dash.Stations[0].ID != "KMSN" {
		t.Errorf("warm-started dashboard = %+v", dash.Stations)
	}
}

func TestServiceCorruptSnapshotIsCacheMiss(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	store := &memStore{savedAt: time.Now(), sig: "KMSN", payload: []byte("{not json")}
	svc := testService(t, srv.URL, store, nil)

	svc.restoreSnapshot()
	if svc.payloadCache.Last() != nil {
		t.Error("corrupt snapshot populated the payload cache")
	}

	// The service recovers by refreshing normally.
	if _, err := svc.Dashboard(false); err != nil {
		t.Fatalf("Dashboard after corrupt snapshot failed: %v", err)
	}
}

func TestServiceInvalidateCache(t *testing.T) {
	srv := upstreamStub(t)
	defer srv.Close()

	store := &memStore{}
	svc := testService(t, srv.URL, store, nil)

	if _, err := svc.Dashboard(false); err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}

	svc.InvalidateCache()
	if svc.payloadCache.Last() != nil {
		t.Error("payload cache survived invalidation")
	}
	store.mu.Lock()
	cleared := len(store.payload) == 0
	store.mu.Unlock()
	if !cleared {
		t.Error("persisted snapshot survived invalidation")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := DefaultConfig()
	if err := ValidateConfig(valid); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api url", func(c *Config) { c.APIBaseURL = "" }},
		{"empty asos url", func(c *Config) { c.ASOSBaseURL = "" }},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero payload ttl", func(c *Config) { c.PayloadTTLMin = 0 }},
		{"lookahead too large", func(c *Config) { c.LookaheadHours = 49 }},
		{"zero alert lookahead", func(c *Config) { c.AlertLookaheadHours = 0 }},
		{"bad override id", func(c *Config) { c.Overrides = map[string]string{"x": "KUES"} }},
		{"bad override target", func(c *Config) { c.Overrides = map[string]string{"KUNU": ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
