// Package rki defines the core types shared across the scrape pipeline.
package rki

import "time"

// Column indexes of the source table. The order is fixed by the page layout.
const (
	ColState = iota
	ColAmount
	ColDiff
	ColRatio
	ColDead
	ColInfo

	// ColumnCount is the arity of a source table row.
	ColumnCount
)

// ColumnNames labels each column index, mainly for error messages.
var ColumnNames = [ColumnCount]string{"State", "Amount", "Diff", "Ratio", "Dead", "Info"}

// RawPage is the HTML fetched from the source. It is never persisted.
type RawPage struct {
	URL        string
	StatusCode int
	Body       []byte
	// Digest is the hex SHA-256 of Body.
	Digest   string
	Duration time.Duration
}

// RawRow is one table row as positional cell text, before normalization.
type RawRow [ColumnCount]string

// State returns the state name cell.
func (r RawRow) State() string { return r[ColState] }

// Info returns the free-text info cell.
func (r RawRow) Info() string { return r[ColInfo] }

// StateRow is one normalized row of the dataset.
type StateRow struct {
	State  string `json:"state"`
	Amount int64  `json:"amount"`
	Diff   int64  `json:"diff"`
	Ratio  int64  `json:"ratio"`
	Dead   int64  `json:"dead"`
	Info   string `json:"info"`
}

// Dataset is the ordered list of state rows, in source table order.
type Dataset []StateRow

// Snapshot is one captured dataset plus its check and update timestamps.
type Snapshot struct {
	ID        string    `json:"id"`
	CheckedAt time.Time `json:"checked_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Data      Dataset   `json:"data"`
}

// LogEntry records the outcome of one pipeline run.
type LogEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Info      string    `json:"info"`
	Error     string    `json:"error"`
}

// Failed reports whether the entry records a failed run.
func (e LogEntry) Failed() bool {
	return e.Error != ""
}

// RunState is a step of the pipeline state machine.
type RunState string

// Pipeline states. StateDone and StateFailed are terminal.
const (
	StateFetching    RunState = "fetching"
	StateParsing     RunState = "parsing"
	StateNormalizing RunState = "normalizing"
	StatePersisting  RunState = "persisting"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// SnapshotEvent is published after a snapshot has been stored.
type SnapshotEvent struct {
	SnapshotID string    `json:"snapshot_id"`
	CheckedAt  time.Time `json:"checked_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Rows       int       `json:"rows"`
	PageDigest string    `json:"page_sha256,omitempty"`
}
