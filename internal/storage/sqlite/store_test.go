package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/pkg/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}

	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStationsRoundTrip(t *testing.T) {
	store := testStore(t)

	// Empty database yields an empty list, not an error.
	list, err := store.LoadStations()
	if err != nil {
		t.Fatalf("LoadStations on empty db failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d stations from empty db", len(list))
	}

	want := []stations.Station{
		{ID: "KMSN", Name: "Madison"},
		{ID: "KUES", Name: "Waukesha"},
		{ID: "KUNU", Name: ""},
	}
	if err := store.SaveStations(want); err != nil {
		t.Fatalf("SaveStations failed: %v", err)
	}

	got, err := store.LoadStations()
	if err != nil {
		t.Fatalf("LoadStations failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot:  %+v\nwant: %+v", got, want)
	}

	// Save replaces, never appends.
	replacement := []stations.Station{{ID: "KMKE", Name: "Milwaukee"}}
	if err := store.SaveStations(replacement); err != nil {
		t.Fatalf("SaveStations failed: %v", err)
	}
	got, err = store.LoadStations()
	if err != nil {
		t.Fatalf("LoadStations failed: %v", err)
	}
	if !reflect.DeepEqual(got, replacement) {
		t.Errorf("list after replace = %+v, want %+v", got, replacement)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := testStore(t)

	// Missing snapshot is zero values, no error.
	savedAt, sig, payload, err := store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot on empty db failed: %v", err)
	}
	if !savedAt.IsZero() || sig != "" || payload != nil {
		t.Errorf("empty db snapshot = %v, %q, %q", savedAt, sig, payload)
	}

	wantAt := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	wantPayload := []byte(`{"fetched_at":"2026-03-14T15:00:00Z"}`)
	if err := store.SaveSnapshot(wantAt, "KMSN,KUES", wantPayload); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	savedAt, sig, payload, err = store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !savedAt.Equal(wantAt) {
		t.Errorf("savedAt = %v, want %v", savedAt, wantAt)
	}
	if sig != "KMSN,KUES" {
		t.Errorf("sig = %q, want KMSN,KUES", sig)
	}
	if string(payload) != string(wantPayload) {
		t.Errorf("payload = %q, want %q", payload, wantPayload)
	}

	// A second save overwrites the single slot.
	laterAt := wantAt.Add(time.Hour)
	if err := store.SaveSnapshot(laterAt, "KMSN", []byte(`{}`)); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}
	savedAt, sig, _, err = store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !savedAt.Equal(laterAt) || sig != "KMSN" {
		t.Errorf("snapshot after overwrite = %v, %q", savedAt, sig)
	}
}

func TestClearSnapshot(t *testing.T) {
	store := testStore(t)

	if err := store.SaveSnapshot(time.Now(), "KMSN", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := store.ClearSnapshot(); err != nil {
		t.Fatalf("ClearSnapshot failed: %v", err)
	}

	savedAt, _, payload, err := store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !savedAt.IsZero() || payload != nil {
		t.Error("snapshot survived ClearSnapshot")
	}
}
