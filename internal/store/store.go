package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database holding persisted session state and the
// provider response caches.
type Store struct {
	db *sql.DB
}

// New creates and initializes a new database connection
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize database: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// optimizeSQLite applies pragmas suited to a small always-on daemon
func optimizeSQLite(db *sql.DB) error {
	// Enable WAL mode for better concurrency (allows concurrent reads)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Use NORMAL synchronous mode (faster than FULL, safer than OFF)
	// WAL mode makes this safer since writes go to WAL first
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Set busy timeout to handle concurrent access better
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database schema if it doesn't exist
func (s *Store) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			carrier TEXT NOT NULL,
			number TEXT NOT NULL,
			flight_date TEXT NOT NULL,
			origin_lat REAL NOT NULL,
			origin_lon REAL NOT NULL,
			airport_lat REAL NOT NULL,
			airport_lon REAL NOT NULL,
			route_class TEXT NOT NULL,
			state TEXT NOT NULL,
			terminal_reason TEXT NOT NULL DEFAULT '',
			earliest_leave TIMESTAMP,
			recommended_leave TIMESTAMP,
			latest_leave TIMESTAMP,
			deadline TIMESTAMP,
			urgency TEXT NOT NULL DEFAULT '',
			low_confidence INTEGER NOT NULL DEFAULT 0,
			window_computed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flight_cache (
			flight_key TEXT PRIMARY KEY,
			origin_airport TEXT NOT NULL,
			destination_airport TEXT NOT NULL,
			scheduled_departure TIMESTAMP NOT NULL,
			estimated_departure TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			gate_close_secs INTEGER NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			low_confidence INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS route_cache (
			route_key TEXT PRIMARY KEY,
			origin_lat REAL NOT NULL,
			origin_lon REAL NOT NULL,
			airport_lat REAL NOT NULL,
			airport_lon REAL NOT NULL,
			point_secs INTEGER NOT NULL,
			pessimistic_secs INTEGER NOT NULL,
			depart_now INTEGER NOT NULL DEFAULT 0,
			sampled_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_flight_cache_expires ON flight_cache(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_route_cache_expires ON route_cache(expires_at)`,
	}

	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Sessions returns the session repository backed by this store.
func (s *Store) Sessions() SessionRepository {
	return &sessionRepository{db: s.db}
}

// FlightCache returns the flight response cache backed by this store.
func (s *Store) FlightCache() FlightCache {
	return &flightCache{db: s.db}
}

// RouteCache returns the routing response cache backed by this store.
func (s *Store) RouteCache() RouteCache {
	return &routeCache{db: s.db}
}
