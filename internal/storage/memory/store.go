// Package memory provides an in-memory rki.Store for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// Store keeps log entries and snapshots in append-only slices.
type Store struct {
	mu        sync.RWMutex
	logs      []rki.LogEntry
	snapshots []rki.Snapshot
	closed    bool
}

var errClosed = errors.New("memory store is closed")

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{}
}

// AppendLog appends a run log entry.
func (s *Store) AppendLog(_ context.Context, entry rki.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.logs = append(s.logs, entry)
	return nil
}

// AppendSnapshot appends a dataset snapshot.
func (s *Store) AppendSnapshot(_ context.Context, snapshot rki.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	snapshot.Data = append(rki.Dataset(nil), snapshot.Data...)
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

// RecentLogs returns at most limit entries, newest first.
func (s *Store) RecentLogs(_ context.Context, limit int) ([]rki.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	n := len(s.logs)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([]rki.LogEntry, 0, n)
	for i := len(s.logs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

// Snapshots returns every snapshot in insertion order.
func (s *Store) Snapshots(_ context.Context) ([]rki.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]rki.Snapshot, len(s.snapshots))
	for i, snap := range s.snapshots {
		snap.Data = append(rki.Dataset(nil), snap.Data...)
		out[i] = snap
	}
	return out, nil
}

// Close marks the store closed. Later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
