// Package telemetry stores periodic operational snapshots (frame rate, drop
// counts, watchdog trips, LED state) in a sqlite-backed, migration-managed
// store, separate from the in-memory zone occupancy state served to
// protocol clients.
package telemetry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sample is a single operational snapshot taken at one point in time.
type Sample struct {
	TakenAt       time.Time
	FPS           float64
	DepthDrops    int64
	VideoDrops    int64
	WatchdogTrips int64
	LED           string
	OccupiedZones int
}

// Store is a sqlite-backed telemetry sample store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// migrates its schema to the latest version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database %q: %w", path, err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying telemetry schema migrations: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { log.Printf("[telemetry migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a single sample.
func (s *Store) Record(sample Sample) error {
	_, err := s.db.Exec(
		`INSERT INTO samples (taken_at, fps, depth_drops, video_drops, watchdog_trips, led, occupied_zones)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.TakenAt, sample.FPS, sample.DepthDrops, sample.VideoDrops, sample.WatchdogTrips, sample.LED, sample.OccupiedZones,
	)
	if err != nil {
		return fmt.Errorf("recording telemetry sample: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recently recorded samples, oldest
// first.
func (s *Store) Recent(limit int) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT taken_at, fps, depth_drops, video_drops, watchdog_trips, led, occupied_zones
		 FROM samples ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.TakenAt, &s.FPS, &s.DepthDrops, &s.VideoDrops, &s.WatchdogTrips, &s.LED, &s.OccupiedZones); err != nil {
			return nil, fmt.Errorf("scanning telemetry sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first, matching how charting callers expect a time series.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	return samples, nil
}

// Sampler periodically records a Sample produced by collect.
type Sampler struct {
	store    *Store
	interval time.Duration
	collect  func() Sample
}

// NewSampler creates a Sampler that calls collect every interval and records
// the result.
func NewSampler(store *Store, interval time.Duration, collect func() Sample) *Sampler {
	return &Sampler{store: store, interval: interval, collect: collect}
}

// Run records samples until stop is closed.
func (sp *Sampler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sp.store.Record(sp.collect()); err != nil {
				log.Printf("telemetry: %v", err)
			}
		}
	}
}
