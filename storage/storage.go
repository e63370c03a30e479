// Package storage defines the persistence boundary of the engine. Backends
// connect a database (or anything else) to the engine; implementations must
// return the error sentinels from the series package so callers can match
// with errors.Is.
package storage

import (
	"context"
	"time"

	"github.com/kmikulski/libseries/series"
)

// SeriesStore persists series templates.
//
// All reads and deletes are scoped by owner: a series that exists but
// belongs to a different owner is series.ErrNotFound, never
// series.ErrForbidden, so that existence does not leak across owners.
type SeriesStore interface {
	// GetSeries returns the series including its tags.
	GetSeries(ctx context.Context, ownerID, seriesID string) (*series.Series, error)

	// ListSeries returns every series of the owner.
	ListSeries(ctx context.Context, ownerID string) ([]*series.Series, error)

	// CreateSeries persists a new series. Tags on s are ignored; they are
	// written separately via ReplaceTags so that a failed tag write never
	// invalidates the series itself. The store assigns CreatedAt and
	// UpdatedAt.
	CreateSeries(ctx context.Context, s *series.Series) error

	// UpdateSeries persists s only if the stored row still carries
	// expectedUpdatedAt, and returns series.ErrConflict otherwise. This
	// compare-and-set is what keeps two concurrent splits of one series
	// from silently overwriting each other. The store refreshes
	// UpdatedAt on success.
	UpdateSeries(ctx context.Context, s *series.Series, expectedUpdatedAt time.Time) error

	// RestoreSeries writes s back verbatim, including UpdatedAt. It
	// exists solely for the splitter's rollback path, which must leave
	// the parent byte-for-byte as it was before the split.
	RestoreSeries(ctx context.Context, s *series.Series) error

	// DeleteSeries removes the series and cascades to its exceptions
	// and tag links.
	DeleteSeries(ctx context.Context, ownerID, seriesID string) error

	// ReplaceTags replaces the series' tag links with value copies of
	// tags.
	ReplaceTags(ctx context.Context, ownerID, seriesID string, tags []series.Tag) error
}

// ExceptionStore persists per-occurrence overrides.
type ExceptionStore interface {
	// GetExceptions returns the exceptions of a series whose instance
	// date falls in [from, to], keyed by series.DateKey of that date.
	GetExceptions(ctx context.Context, seriesID string, from, to time.Time) (map[string]*series.Exception, error)

	// UpsertException inserts or replaces the exception at
	// (ex.SeriesID, ex.Date). At most one exception exists per key; a
	// second write replaces the first, never duplicates it.
	UpsertException(ctx context.Context, ex *series.Exception) (*series.Exception, error)

	// DeleteException removes the exception at (seriesID, date).
	DeleteException(ctx context.Context, seriesID string, date time.Time) error
}

// Store is the full persistence surface the engine operates on.
type Store interface {
	SeriesStore
	ExceptionStore
}
