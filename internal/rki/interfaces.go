package rki

import (
	"context"
	"time"
)

// Fetcher retrieves the source page.
type Fetcher interface {
	Fetch(ctx context.Context) (RawPage, error)
}

// Store persists run log entries and dataset snapshots. Both are append-only.
type Store interface {
	AppendLog(ctx context.Context, entry LogEntry) error
	AppendSnapshot(ctx context.Context, snapshot Snapshot) error
	// RecentLogs returns at most limit entries, newest first.
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)
	// Snapshots returns every stored snapshot in insertion order.
	Snapshots(ctx context.Context) ([]Snapshot, error)
	Close() error
}

// Publisher pushes snapshot notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
