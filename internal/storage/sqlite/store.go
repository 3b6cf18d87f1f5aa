// Package sqlite provides an embedded SQLite rki.Store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const schemaTmpl = `
CREATE TABLE IF NOT EXISTS %s (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL,
  info TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS %s (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  checked_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  data TEXT NOT NULL
);`

// Config selects the database file and table names.
type Config struct {
	Path      string
	LogTable  string
	DataTable string
}

// Store persists log entries and snapshots in a SQLite file.
type Store struct {
	db        *sql.DB
	logTable  string
	dataTable string
}

// Open opens (or creates) the database and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logTable, dataTable := cfg.LogTable, cfg.DataTable
	if logTable == "" {
		logTable = "rki_log"
	}
	if dataTable == "" {
		dataTable = "rki_data"
	}
	for _, name := range []string{logTable, dataTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}
	dsn := MemoryPath
	if path != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: a single writer, and in-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaTmpl, logTable, dataTable)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logTable: logTable, dataTable: dataTable}, nil
}

// AppendLog inserts a run log row.
func (s *Store) AppendLog(ctx context.Context, entry rki.LogEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, created_at, info, error) VALUES (?, ?, ?, ?)`, s.logTable)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, formatTime(entry.CreatedAt), entry.Info, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// AppendSnapshot inserts a snapshot row with the dataset as JSON text.
func (s *Store) AppendSnapshot(ctx context.Context, snapshot rki.Snapshot) error {
	data := snapshot.Data
	if data == nil {
		data = rki.Dataset{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, checked_at, updated_at, data) VALUES (?, ?, ?, ?)`, s.dataTable)
	_, err = s.db.ExecContext(ctx, query,
		snapshot.ID, formatTime(snapshot.CheckedAt), formatTime(snapshot.UpdatedAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentLogs returns at most limit entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]rki.LogEntry, error) {
	query := fmt.Sprintf(`SELECT id, created_at, info, error FROM %s ORDER BY seq DESC LIMIT ?`, s.logTable)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []rki.LogEntry
	for rows.Next() {
		var (
			e       rki.LogEntry
			created string
		)
		if err := rows.Scan(&e.ID, &created, &e.Info, &e.Error); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return out, nil
}

// Snapshots returns every snapshot in insertion order.
func (s *Store) Snapshots(ctx context.Context) ([]rki.Snapshot, error) {
	query := fmt.Sprintf(`SELECT id, checked_at, updated_at, data FROM %s ORDER BY seq ASC`, s.dataTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []rki.Snapshot
	for rows.Next() {
		var (
			snap             rki.Snapshot
			checked, updated string
			data             string
		)
		if err := rows.Scan(&snap.ID, &checked, &updated, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if snap.CheckedAt, err = parseTime(checked); err != nil {
			return nil, err
		}
		if snap.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &snap.Data); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
