// Package pipeline runs one scrape: fetch, parse, normalize and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/rki-case-scraper/internal/metrics"
	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// Log entry info texts.
const (
	InfoSuccess = "New entry created"
	InfoFailure = "Error in program."
)

// TableParser extracts the positional rows of the case table.
type TableParser interface {
	Parse(page []byte) ([]rki.RawRow, error)
}

// TimestampParser extracts the "last updated" time of the page.
type TimestampParser interface {
	Parse(page []byte) (time.Time, error)
}

// Normalizer converts raw rows into typed state rows.
type Normalizer interface {
	Normalize(rows []rki.RawRow) (rki.Dataset, error)
}

// Config controls Runner behavior.
type Config struct {
	// Topic receives a SnapshotEvent after each stored snapshot. Empty disables publishing.
	Topic string
}

// Outcome summarizes one run.
type Outcome struct {
	State rki.RunState
	// FailedIn is the state the run was in when it failed.
	FailedIn rki.RunState
	Err      error
	Snapshot *rki.Snapshot
	Log      rki.LogEntry
	// PersistErrs holds store write failures. They never change State.
	PersistErrs []error
}

// Runner executes pipeline runs one at a time.
type Runner struct {
	fetcher    rki.Fetcher
	table      TableParser
	stamp      TimestampParser
	normalizer Normalizer
	store      rki.Store
	publisher  rki.Publisher
	clock      rki.Clock
	ids        rki.IDGenerator
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
	sem        *semaphore.Weighted
}

// New constructs a Runner. publisher may be nil.
func New(
	fetcher rki.Fetcher,
	table TableParser,
	stamp TimestampParser,
	normalizer Normalizer,
	store rki.Store,
	publisher rki.Publisher,
	clock rki.Clock,
	ids rki.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:    fetcher,
		table:      table,
		stamp:      stamp,
		normalizer: normalizer,
		store:      store,
		publisher:  publisher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/JakeFAU/rki-case-scraper/internal/pipeline"),
		sem:        semaphore.NewWeighted(1),
	}
}

// Run waits for any in-flight run to finish, then executes one run to completion.
// Cancelling ctx only aborts the wait; a started run is not interrupted.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, fmt.Errorf("wait for running pipeline: %w", err)
	}
	defer r.sem.Release(1)
	return r.run(context.WithoutCancel(ctx)), nil
}

// Wait blocks until no run is in flight or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for running pipeline: %w", err)
	}
	r.sem.Release(1)
	return nil
}

func (r *Runner) run(ctx context.Context) Outcome {
	ctx, span := r.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	checkedAt := r.clock.Now()
	out := Outcome{State: rki.StateFetching}

	var page rki.RawPage
	err := r.stage(ctx, rki.StateFetching, func(ctx context.Context) error {
		var err error
		page, err = r.fetcher.Fetch(ctx)
		return err
	})
	if err != nil {
		return r.fail(ctx, span, out, checkedAt, err)
	}
	metrics.ObserveFetch(len(page.Body))
	span.SetAttributes(attribute.String("rki.page_sha256", page.Digest))
	r.logger.Debug("page fetched",
		zap.Int("status", page.StatusCode),
		zap.Int("bytes", len(page.Body)),
		zap.String("sha256", page.Digest),
		zap.Duration("duration", page.Duration),
	)

	out.State = rki.StateParsing
	var (
		rows      []rki.RawRow
		updatedAt time.Time
	)
	err = r.stage(ctx, rki.StateParsing, func(context.Context) error {
		var tableErr, stampErr error
		rows, tableErr = r.table.Parse(page.Body)
		if tableErr != nil {
			r.logger.Error("table parse failed", zap.Error(tableErr))
		}
		updatedAt, stampErr = r.stamp.Parse(page.Body)
		if stampErr != nil {
			r.logger.Error("timestamp parse failed", zap.Error(stampErr))
			return stampErr
		}
		return tableErr
	})
	if err != nil {
		return r.fail(ctx, span, out, checkedAt, err)
	}

	out.State = rki.StateNormalizing
	var data rki.Dataset
	err = r.stage(ctx, rki.StateNormalizing, func(context.Context) error {
		var err error
		data, err = r.normalizer.Normalize(rows)
		return err
	})
	if err != nil {
		return r.fail(ctx, span, out, checkedAt, err)
	}

	out.State = rki.StatePersisting
	snapshot := rki.Snapshot{CheckedAt: checkedAt, UpdatedAt: updatedAt, Data: data}
	entry := rki.LogEntry{CreatedAt: checkedAt, Info: InfoSuccess}
	_ = r.stage(ctx, rki.StatePersisting, func(ctx context.Context) error {
		snapshotErr := r.appendSnapshot(ctx, &snapshot)
		if snapshotErr != nil {
			out.PersistErrs = append(out.PersistErrs, snapshotErr)
		} else {
			out.Snapshot = &snapshot
			metrics.SetSnapshotRows(len(snapshot.Data))
		}
		if logErr := r.appendLog(ctx, &entry); logErr != nil {
			out.PersistErrs = append(out.PersistErrs, logErr)
		}
		return errors.Join(out.PersistErrs...)
	})
	out.Log = entry

	if out.Snapshot != nil {
		r.announce(ctx, *out.Snapshot, page.Digest)
	}

	out.State = rki.StateDone
	metrics.ObserveRun(string(rki.StateDone))
	span.SetAttributes(attribute.Int("rki.rows", len(data)))
	r.logger.Info("pipeline run finished",
		zap.Int("rows", len(data)),
		zap.Time("updated_at", updatedAt),
		zap.Int("persist_errors", len(out.PersistErrs)),
	)
	return out
}

// fail records the failed run in a log entry. No snapshot is written.
func (r *Runner) fail(ctx context.Context, span trace.Span, out Outcome, checkedAt time.Time, err error) Outcome {
	out.FailedIn = out.State
	out.State = rki.StateFailed
	out.Err = err
	span.RecordError(err)
	span.SetStatus(codes.Error, string(out.FailedIn))

	r.logger.Error("pipeline run failed", zap.String("state", string(out.FailedIn)), zap.Error(err))

	entry := rki.LogEntry{CreatedAt: checkedAt, Info: InfoFailure, Error: err.Error()}
	if logErr := r.appendLog(ctx, &entry); logErr != nil {
		out.PersistErrs = append(out.PersistErrs, logErr)
	}
	out.Log = entry
	metrics.ObserveRun(string(rki.StateFailed))
	return out
}

// stage runs fn inside a span and records its duration.
func (r *Runner) stage(ctx context.Context, state rki.RunState, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+string(state))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(string(state), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Runner) appendSnapshot(ctx context.Context, snapshot *rki.Snapshot) error {
	id, err := r.ids.NewID()
	if err != nil {
		return r.persistFailed("snapshot", err)
	}
	snapshot.ID = id
	if err := r.store.AppendSnapshot(ctx, *snapshot); err != nil {
		return r.persistFailed("snapshot", err)
	}
	return nil
}

func (r *Runner) appendLog(ctx context.Context, entry *rki.LogEntry) error {
	id, err := r.ids.NewID()
	if err != nil {
		return r.persistFailed("log", err)
	}
	entry.ID = id
	if err := r.store.AppendLog(ctx, *entry); err != nil {
		return r.persistFailed("log", err)
	}
	return nil
}

func (r *Runner) persistFailed(kind string, err error) error {
	metrics.ObservePersistenceFailure(kind)
	perr := &rki.PersistenceError{Op: kind, Err: err}
	r.logger.Error("store write failed", zap.String("kind", kind), zap.Error(perr))
	return perr
}

func (r *Runner) announce(ctx context.Context, snapshot rki.Snapshot, pageDigest string) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := rki.SnapshotEvent{
		SnapshotID: snapshot.ID,
		CheckedAt:  snapshot.CheckedAt,
		UpdatedAt:  snapshot.UpdatedAt,
		Rows:       len(snapshot.Data),
		PageDigest: pageDigest,
	}
	msgID, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		r.logger.Warn("snapshot publish failed", zap.String("snapshot_id", snapshot.ID), zap.Error(err))
		return
	}
	r.logger.Debug("snapshot published", zap.String("snapshot_id", snapshot.ID), zap.String("message_id", msgID))
}
