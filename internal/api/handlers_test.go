package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stationwx/wxboard/internal/config"
	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/internal/websocket"
	"github.com/stationwx/wxboard/internal/wx"
	"github.com/stationwx/wxboard/pkg/logger"
)

// testServer wires a full router against a stubbed upstream.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Hour)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metar":
			w.Write([]byte(`[{"icaoId":"KMSN","name":"Madison","visib":10}]`))
		case "/taf":
			fmt.Fprintf(w, `[{"icaoId":"KMSN","fcsts":[{"timeFrom":%d,"timeTo":%d,"visib":6}]}]`,
				now.Unix(), now.Add(48*time.Hour).Unix())
		default:
			w.Write([]byte("station,valid,vsby\n"))
		}
	}))
	t.Cleanup(upstream.Close)

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}

	cfg := config.Default()
	cfg.Server.StaticFilesDir = t.TempDir()
	cfg.Wx.APIBaseURL = upstream.URL
	cfg.Wx.ASOSBaseURL = upstream.URL
	cfg.Wx.MaxRetries = 0

	mgr := stations.NewManager([]stations.Station{{ID: "KMSN", Name: "Madison"}}, nil, log)

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	wxCfg := wx.DefaultConfig()
	wxCfg.APIBaseURL = upstream.URL
	wxCfg.ASOSBaseURL = upstream.URL
	wxCfg.MaxRetries = 0
	wxService := wx.NewService(wxCfg, mgr, nil, wsServer, log)

	router := NewRouter(wxService, mgr, nil, wsServer, cfg, log)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", url, err)
		}
	}
	return resp
}

func TestGetHealth(t *testing.T) {
	srv := testServer(t)

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestGetWx(t *testing.T) {
	srv := testServer(t)

	var dash wx.Dashboard
	resp := getJSON(t, srv.URL+"/api/v1/wx/", &dash)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(dash.Stations) != 1 || dash.Stations[0].ID != "KMSN" {
		t.Errorf("dashboard stations = %+v", dash.Stations)
	}
	if dash.Stale {
		t.Error("fresh dashboard marked stale")
	}
}

func TestGetWxUpstreamDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Server.StaticFilesDir = t.TempDir()
	mgr := stations.NewManager([]stations.Station{{ID: "KMSN"}}, nil, log)
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	wxCfg := wx.DefaultConfig()
	wxCfg.APIBaseURL = down.URL
	wxCfg.ASOSBaseURL = down.URL
	wxCfg.MaxRetries = 0
	wxService := wx.NewService(wxCfg, mgr, nil, wsServer, log)

	srv := httptest.NewServer(NewRouter(wxService, mgr, nil, wsServer, cfg, log).Routes())
	defer srv.Close()

	resp := getJSON(t, srv.URL+"/api/v1/wx/", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 with no fallback payload", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestStationEndpoints(t *testing.T) {
	srv := testServer(t)

	var list []stations.Station
	resp := getJSON(t, srv.URL+"/api/v1/wx/stations", &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("initial list status=%d list=%+v", resp.StatusCode, list)
	}

	// Add a station.
	resp, err := http.Post(srv.URL+"/api/v1/wx/stations", "application/json",
		strings.NewReader(`{"id":"kues","name":"Waukesha"}`))
	if err != nil {
		t.Fatal(err)
	}
	var added stations.Station
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", resp.StatusCode)
	}
	if added.ID != "KUES" {
		t.Errorf("added id = %q, want normalized KUES", added.ID)
	}

	// Invalid id rejected.
	resp, err = http.Post(srv.URL+"/api/v1/wx/stations", "application/json",
		strings.NewReader(`{"id":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid add status = %d, want 400", resp.StatusCode)
	}

	// Remove it again.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/wx/stations/KUES", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("remove status = %d, want 200", resp.StatusCode)
	}

	// Removing an absent station is a 404.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/wx/stations/KORD", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("remove absent status = %d, want 404", resp.StatusCode)
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv := testServer(t)

	// Prime the cache.
	getJSON(t, srv.URL+"/api/v1/wx/", nil)

	var stats map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/wx/cache/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if has, _ := stats["has_payload"].(bool); !has {
		t.Errorf("stats after prime = %v, want has_payload true", stats)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/wx/cache", nil)
	clearResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	clearResp.Body.Close()
	if clearResp.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d, want 200", clearResp.StatusCode)
	}

	stats = nil
	getJSON(t, srv.URL+"/api/v1/wx/cache/stats", &stats)
	if has, _ := stats["has_payload"].(bool); has {
		t.Errorf("stats after clear = %v, want has_payload false", stats)
	}
}

func TestPostRefresh(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/wx/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("refresh status = %d, want 202", resp.StatusCode)
	}
}

func TestBriefingDisabled(t *testing.T) {
	srv := testServer(t)

	resp := getJSON(t, srv.URL+"/api/v1/briefing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("briefing status = %d, want 404 when disabled", resp.StatusCode)
	}
}
