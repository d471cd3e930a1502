// Package history keeps a log of limit violations in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tinnicap/internal/domain"
	"tinnicap/internal/usecase"
)

const (
	dirPermissions    = 0o750
	busyTimeoutMillis = 5000
	pingTimeout       = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS violations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL UNIQUE,
	at          INTEGER NOT NULL,
	stable_id   TEXT NOT NULL,
	device_name TEXT NOT NULL,
	transport   TEXT NOT NULL,
	attempted   REAL NOT NULL,
	limit_value REAL NOT NULL,
	mode        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_at ON violations(at);
`

// Record is one stored violation.
type Record struct {
	ID        int64
	EventID   string
	At        time.Time
	StableID  string
	Name      string
	Transport domain.TransportClass
	Attempted float64
	Limit     float64
	Mode      domain.EnforcementMode
}

// Store appends violations to a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or opens) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// SQLite supports one writer; a single connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history: %w", err)
	}
	return nil
}

// Record stores v. Recording the same event twice is a no-op.
func (s *Store) Record(ctx context.Context, eventID string, at time.Time, v domain.Violation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO violations (event_id, at, stable_id, device_name, transport, attempted, limit_value, mode)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, at.UnixMilli(), v.Device.StableID, v.Device.Name, string(v.Device.Transport),
		v.Attempted, v.Limit, string(v.Mode))
	if err != nil {
		return fmt.Errorf("recording violation: %w", err)
	}
	return nil
}

// Recent returns up to limit violations, newest first. stableID filters when non-empty.
func (s *Store) Recent(ctx context.Context, stableID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, event_id, at, stable_id, device_name, transport, attempted, limit_value, mode
FROM violations`
	args := []any{}
	if stableID != "" {
		query += ` WHERE stable_id = ?`
		args = append(args, stableID)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			atMillis  int64
			transport string
			mode      string
		)
		if err := rows.Scan(&r.ID, &r.EventID, &atMillis, &r.StableID, &r.Name, &transport, &r.Attempted, &r.Limit, &mode); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		r.At = time.UnixMilli(atMillis)
		r.Transport = domain.TransportClass(transport)
		r.Mode = domain.EnforcementMode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Name implements notify.Sink.
func (s *Store) Name() string { return "history" }

// Handle implements notify.Sink; only violations are stored.
func (s *Store) Handle(ctx context.Context, ev usecase.Event) error {
	if ev.Kind != usecase.EventLimitViolation || ev.Violation == nil {
		return nil
	}
	return s.Record(ctx, ev.ID, ev.At, *ev.Violation)
}
