// Package store keeps the little actuator state the station must survive a
// reboot with: the lamp level and the daily pump run time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// RetainDays is how many days of pump run time are kept.
const RetainDays = 35

const (
	keyLampLevel = "lamp_level"
	keyPumpOn    = "pump_on"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS actuator_state (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pump_runtime (
		date TEXT PRIMARY KEY, -- YYYY-MM-DD
		seconds REAL NOT NULL
	)`,
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO actuator_state (name, value, updated_at) VALUES (?, ?, ?)`,
		name, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM actuator_state WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) SaveLampLevel(ctx context.Context, level uint8) error {
	return s.put(ctx, keyLampLevel, strconv.Itoa(int(level)))
}

// LampLevel returns the last saved level; ok is false when none was saved.
func (s *Store) LampLevel(ctx context.Context) (level uint8, ok bool, err error) {
	v, ok, err := s.get(ctx, keyLampLevel)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, false, fmt.Errorf("load %s: %w", keyLampLevel, err)
	}
	return uint8(n), true, nil
}

func (s *Store) SavePumpState(ctx context.Context, on bool) error {
	return s.put(ctx, keyPumpOn, strconv.FormatBool(on))
}

// AddPumpRuntime adds d to the total of the day containing at (UTC) and
// drops days older than RetainDays.
func (s *Store) AddPumpRuntime(ctx context.Context, at time.Time, d time.Duration) error {
	day := at.UTC().Format(dateLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pump_runtime (date, seconds) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET seconds = seconds + excluded.seconds
	`, day, d.Seconds())
	if err != nil {
		return fmt.Errorf("add pump runtime: %w", err)
	}
	cutoff := at.UTC().AddDate(0, 0, -RetainDays).Format(dateLayout)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pump_runtime WHERE date < ?`, cutoff); err != nil {
		return fmt.Errorf("prune pump runtime: %w", err)
	}
	return nil
}

// PumpRuntime returns the recorded run time for the day containing at.
func (s *Store) PumpRuntime(ctx context.Context, at time.Time) (time.Duration, error) {
	var seconds float64
	err := s.db.QueryRowContext(ctx,
		`SELECT seconds FROM pump_runtime WHERE date = ?`, at.UTC().Format(dateLayout)).Scan(&seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pump runtime: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
