// Package engine implements the recurring series engine: occurrence
// materialization, per-occurrence exception writes and the series split
// operation. All state lives in the storage backend; the engine itself is
// stateless and safe to run in as many instances as needed.
package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmikulski/libseries/recurrence"
	"github.com/kmikulski/libseries/series"
	"github.com/kmikulski/libseries/storage"
)

// ConflictDetector reports occurrences of the same owner overlapping a
// proposed time range. The engine consults it when creating a series;
// implementations live outside this library (typically a query across the
// owner's materialized calendar).
type ConflictDetector interface {
	Overlapping(ctx context.Context, ownerID string, start, end time.Time) ([]series.Occurrence, error)
}

// Engine is the operation surface over a storage backend.
type Engine struct {
	store     storage.Store
	eval      *recurrence.Evaluator
	conflicts ConflictDetector
	logger    *slog.Logger

	strictTagCopy bool

	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConflictDetector makes CreateSeries check the proposed first
// occurrence against existing occurrences of the owner and fail with
// series.ErrConflict when any overlap.
func WithConflictDetector(d ConflictDetector) Option {
	return func(e *Engine) { e.conflicts = d }
}

// WithExpansionCache memoizes rule expansion results. Call Stop on the
// engine when done to release the cache's cleanup goroutine.
func WithExpansionCache(config recurrence.CacheConfig) Option {
	return func(e *Engine) { e.eval = recurrence.NewCachedEvaluator(config) }
}

// WithStrictTagCopy makes a failed tag copy during Split roll the whole
// split back instead of merely logging. The default keeps the new series
// and drops the tags, trading consistency for availability.
func WithStrictTagCopy() Option {
	return func(e *Engine) { e.strictTagCopy = true }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the series id generator, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// New creates an engine over the given store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		eval:   recurrence.NewEvaluator(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stop releases background resources (the expansion cache, if enabled).
func (e *Engine) Stop() {
	e.eval.Stop()
}

// getOwned is the ownership guard: every mutation and read goes through a
// lookup scoped to the acting owner, so a foreign series is
// indistinguishable from a missing one.
func (e *Engine) getOwned(ctx context.Context, ownerID, seriesID string) (*series.Series, error) {
	return e.store.GetSeries(ctx, ownerID, seriesID)
}
