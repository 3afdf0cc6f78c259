package stations

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/stationwx/wxboard/pkg/logger"
)

// Station is one entry of the user-configured station list.
type Station struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// Store persists the ordered station list.
type Store interface {
	LoadStations() ([]Station, error)
	SaveStations([]Station) error
}

// Manager owns the ordered station list. The list is never empty: a
// missing, corrupt, or emptied persisted list silently resets to the
// configured defaults. Membership or order changes bump the list
// signature, which downstream caches use as an invalidation trigger.
type Manager struct {
	list     []Station
	defaults []Station
	store    Store
	airports map[string]airportInfo
	mu       sync.RWMutex
	logger   *logger.Logger
}

type airportInfo struct {
	name string
	lat  float64
	lon  float64
}

// NewManager creates a station list manager seeded with the given
// defaults. The store may be nil (no persistence).
func NewManager(defaults []Station, store Store, log *logger.Logger) *Manager {
	normalized := normalizeList(defaults)
	return &Manager{
		defaults: normalized,
		list:     normalized,
		store:    store,
		logger:   log.Named("stations"),
	}
}

// Normalize canonicalizes a station id: trimmed, uppercased, at least
// three characters. The second return is false for ids that fail
// normalization; such entries are dropped, not rejected as errors.
func Normalize(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) < 3 {
		return "", false
	}
	return id, true
}

func normalizeList(in []Station) []Station {
	seen := make(map[string]bool, len(in))
	out := make([]Station, 0, len(in))
	for _, st := range in {
		id, ok := Normalize(st.ID)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		st.ID = id
		out = append(out, st)
	}
	return out
}

// Load restores the persisted station list, falling back to defaults on
// any read error, corrupt content, or an empty result.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}

	persisted, err := m.store.LoadStations()
	if err != nil {
		// Corrupt persisted state is recovered locally, never surfaced.
		m.logger.Warn("Failed to load persisted station list, using defaults", logger.Error(err))
		return m.resetToDefaults()
	}

	normalized := normalizeList(persisted)
	if len(normalized) == 0 {
		m.logger.Info("Persisted station list empty, using defaults")
		return m.resetToDefaults()
	}

	m.mu.Lock()
	m.list = normalized
	m.mu.Unlock()

	m.logger.Info("Loaded station list", logger.Int("count", len(normalized)))
	m.enrich()
	return nil
}

func (m *Manager) resetToDefaults() error {
	m.mu.Lock()
	m.list = append([]Station(nil), m.defaults...)
	m.mu.Unlock()
	m.enrich()
	return m.persist()
}

// List returns a copy of the current station list in display order.
func (m *Manager) List() []Station {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Station(nil), m.list...)
}

// IDs returns the ordered station id list.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.list))
	for i, st := range m.list {
		ids[i] = st.ID
	}
	return ids
}

// Signature identifies the current list membership and order. Any
// add/remove produces a different signature.
func (m *Manager) Signature() string {
	return strings.Join(m.IDs(), ",")
}

// Add appends a station to the list. Ids failing normalization are
// rejected; adding an existing id is a no-op.
func (m *Manager) Add(id, name string) (Station, error) {
	normalized, ok := Normalize(id)
	if !ok {
		return Station{}, fmt.Errorf("invalid station id: %q", id)
	}

	m.mu.Lock()
	for _, st := range m.list {
		if st.ID == normalized {
			m.mu.Unlock()
			return st, nil
		}
	}
	st := Station{ID: normalized, Name: strings.TrimSpace(name)}
	if info, found := m.airports[normalized]; found {
		if st.Name == "" {
			st.Name = info.name
		}
		lat, lon := info.lat, info.lon
		st.Lat, st.Lon = &lat, &lon
	}
	if st.Name == "" {
		st.Name = normalized
	}
	m.list = append(m.list, st)
	m.mu.Unlock()

	m.logger.Info("Station added", logger.String("id", normalized))
	return st, m.persist()
}

// Remove deletes a station by id, reporting whether it was present.
// Removing the last station resets the list to defaults so it is never
// empty.
func (m *Manager) Remove(id string) (bool, error) {
	normalized, ok := Normalize(id)
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	idx := -1
	for i, st := range m.list {
		if st.ID == normalized {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false, nil
	}
	m.list = append(m.list[:idx], m.list[idx+1:]...)
	emptied := len(m.list) == 0
	if emptied {
		m.list = append([]Station(nil), m.defaults...)
	}
	m.mu.Unlock()

	if emptied {
		m.logger.Info("Station list emptied, reset to defaults")
		m.enrich()
	}
	m.logger.Info("Station removed", logger.String("id", normalized))
	return true, m.persist()
}

func (m *Manager) persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveStations(m.List()); err != nil {
		m.logger.Error("Failed to persist station list", logger.Error(err))
		return err
	}
	return nil
}

// LoadAirportsCSV loads an OurAirports-format airport database and
// enriches stations with display names and coordinates. A missing or
// unreadable file only disables enrichment.
func (m *Manager) LoadAirportsCSV(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		m.logger.Warn("Airports database not available", logger.String("path", path), logger.Error(err))
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read airports CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	identIdx, ok := col["ident"]
	if !ok {
		return fmt.Errorf("airports CSV missing ident column")
	}
	nameIdx, latIdx, lonIdx := col["name"], col["latitude_deg"], col["longitude_deg"]

	airports := make(map[string]airportInfo)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read airports CSV: %w", err)
		}
		if identIdx >= len(record) || nameIdx >= len(record) || latIdx >= len(record) || lonIdx >= len(record) {
			continue
		}
		ident := strings.ToUpper(strings.TrimSpace(record[identIdx]))
		if ident == "" {
			continue
		}
		lat, latErr := strconv.ParseFloat(record[latIdx], 64)
		lon, lonErr := strconv.ParseFloat(record[lonIdx], 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		airports[ident] = airportInfo{name: record[nameIdx], lat: lat, lon: lon}
	}

	m.mu.Lock()
	m.airports = airports
	m.mu.Unlock()

	m.logger.Info("Loaded airports database",
		logger.String("path", path),
		logger.Int("airports", len(airports)))
	m.enrich()
	return nil
}

// enrich fills in names and coordinates for stations found in the
// airports index.
func (m *Manager) enrich() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.airports == nil {
		return
	}
	for i := range m.list {
		info, ok := m.airports[m.list[i].ID]
		if !ok {
			continue
		}
		if m.list[i].Name == "" || m.list[i].Name == m.list[i].ID {
			m.list[i].Name = info.name
		}
		if m.list[i].Lat == nil {
			lat, lon := info.lat, info.lon
			m.list[i].Lat, m.list[i].Lon = &lat, &lon
		}
	}
}
