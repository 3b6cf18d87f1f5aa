// Package postgres provides a Postgres-backed rki.Store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultLogTable  = "rki_log"
	defaultDataTable = "rki_data"
)

// StoreConfig controls the Postgres connection pool and table names.
type StoreConfig struct {
	DSN             string
	LogTable        string
	DataTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes log entries and snapshots into two append-only tables.
type Store struct {
	pool      pool
	logTable  string
	dataTable string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db dsn is required")
	}
	logTable, dataTable, err := tableNames(cfg.LogTable, cfg.DataTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p, logTable: logTable, dataTable: dataTable}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, logTable, dataTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	logTable, dataTable, err := tableNames(logTable, dataTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, logTable: logTable, dataTable: dataTable}, nil
}

func tableNames(logTable, dataTable string) (string, string, error) {
	if logTable == "" {
		logTable = defaultLogTable
	}
	if dataTable == "" {
		dataTable = defaultDataTable
	}
	for _, name := range []string{logTable, dataTable} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return logTable, dataTable, nil
}

// EnsureSchema creates both tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	info TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
)`, s.logTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	checked_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	data JSONB NOT NULL
)`, s.dataTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// AppendLog inserts a run log row.
func (s *Store) AppendLog(ctx context.Context, entry rki.LogEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, created_at, info, error) VALUES ($1,$2,$3,$4)`, s.logTable)
	if _, err := s.pool.Exec(ctx, query, entry.ID, entry.CreatedAt, entry.Info, entry.Error); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// AppendSnapshot inserts a snapshot row with the dataset as JSONB.
func (s *Store) AppendSnapshot(ctx context.Context, snapshot rki.Snapshot) error {
	data, err := json.Marshal(datasetOrEmpty(snapshot.Data))
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, checked_at, updated_at, data) VALUES ($1,$2,$3,$4)`, s.dataTable)
	if _, err := s.pool.Exec(ctx, query, snapshot.ID, snapshot.CheckedAt, snapshot.UpdatedAt, data); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentLogs returns at most limit entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]rki.LogEntry, error) {
	query := fmt.Sprintf(`SELECT id, created_at, info, error FROM %s ORDER BY seq DESC LIMIT $1`, s.logTable)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	defer rows.Close()

	var out []rki.LogEntry
	for rows.Next() {
		var e rki.LogEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Info, &e.Error); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
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
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []rki.Snapshot
	for rows.Next() {
		var (
			snap rki.Snapshot
			data []byte
		)
		if err := rows.Scan(&snap.ID, &snap.CheckedAt, &snap.UpdatedAt, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Data); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func datasetOrEmpty(d rki.Dataset) rki.Dataset {
	if d == nil {
		return rki.Dataset{}
	}
	return d
}
