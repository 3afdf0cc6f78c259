package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stationwx/wxboard/internal/stations"
	"github.com/stationwx/wxboard/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store is the SQLite persistence layer: the ordered station list and
// the latest assembled payload snapshot.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore opens (or creates) the database and initializes the schema.
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db, storeLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: storeLogger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initSchema(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stations (
			pos INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create stations table: %w", err)
	}

	// Single-row table: the one cached payload slot.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS wx_snapshot (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			saved_at TIMESTAMP NOT NULL,
			stations_sig TEXT NOT NULL,
			payload TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create wx_snapshot table: %w", err)
	}

	return nil
}

// LoadStations reads the persisted station list in display order.
func (s *Store) LoadStations() ([]stations.Station, error) {
	rows, err := s.db.Query("SELECT id, name FROM stations ORDER BY pos")
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var list []stations.Station
	for rows.Next() {
		var st stations.Station
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("failed to scan station row: %w", err)
		}
		list = append(list, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading station rows: %w", err)
	}
	return list, nil
}

// SaveStations replaces the persisted station list atomically.
func (s *Store) SaveStations(list []stations.Station) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM stations"); err != nil {
		return fmt.Errorf("failed to clear stations: %w", err)
	}
	for i, st := range list {
		if _, err := tx.Exec("INSERT INTO stations (pos, id, name) VALUES (?, ?, ?)", i, st.ID, st.Name); err != nil {
			return fmt.Errorf("failed to insert station %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stations: %w", err)
	}

	s.logger.Debug("Persisted station list", logger.Int("count", len(list)))
	return nil
}

// SaveSnapshot stores the latest assembled payload, replacing any prior
// snapshot.
func (s *Store) SaveSnapshot(savedAt time.Time, stationsSig string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO wx_snapshot (slot, saved_at, stations_sig, payload)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			saved_at = excluded.saved_at,
			stations_sig = excluded.stations_sig,
			payload = excluded.payload
	`, savedAt.UTC().Format(time.RFC3339), stationsSig, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted payload snapshot. A missing row is
// returned as empty values with no error; a row with an unparseable
// timestamp is treated the same way.
func (s *Store) LoadSnapshot() (time.Time, string, []byte, error) {
	var savedAtRaw, sig, payload string
	err := s.db.QueryRow("SELECT saved_at, stations_sig, payload FROM wx_snapshot WHERE slot = 1").
		Scan(&savedAtRaw, &sig, &payload)
	if err == sql.ErrNoRows {
		return time.Time{}, "", nil, nil
	}
	if err != nil {
		return time.Time{}, "", nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	savedAt, err := time.Parse(time.RFC3339, savedAtRaw)
	if err != nil {
		s.logger.Warn("Snapshot timestamp unparseable, discarding", logger.String("saved_at", savedAtRaw))
		return time.Time{}, "", nil, nil
	}

	return savedAt, sig, []byte(payload), nil
}

// ClearSnapshot removes the persisted payload snapshot.
func (s *Store) ClearSnapshot() error {
	if _, err := s.db.Exec("DELETE FROM wx_snapshot"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}
