// Package editscope maps the user-facing edit scopes onto engine
// primitives. The engine itself is scope-agnostic: "this" writes a
// per-date exception, "thisAndFuture" splits the series, "all" rewrites
// the series' own fields. Callers in a presentation layer resolve the
// user's choice here and never talk to the splitter directly.
package editscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kmikulski/libseries/engine"
	"github.com/kmikulski/libseries/series"
)

// Scope is the user-facing edit scope.
type Scope string

const (
	ScopeThis          Scope = "this"
	ScopeThisAndFuture Scope = "thisAndFuture"
	ScopeAll           Scope = "all"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeThis, ScopeThisAndFuture, ScopeAll:
		return true
	}
	return false
}

// Primitives is the slice of the engine surface the resolver composes.
// *engine.Engine satisfies it.
type Primitives interface {
	UpsertException(ctx context.Context, ownerID, seriesID string, date time.Time, typ series.ExceptionType, ov series.Overrides) (*series.Exception, error)
	Split(ctx context.Context, ownerID, seriesID string, splitDate time.Time, ov series.Overrides) (*engine.SplitResult, error)
	UpdateSeries(ctx context.Context, ownerID, seriesID string, ov series.Overrides) (*series.Series, error)
	TruncateSeries(ctx context.Context, ownerID, seriesID string, lastDate time.Time) (*series.Series, error)
	DeleteSeries(ctx context.Context, ownerID, seriesID string) error
}

var _ Primitives = (*engine.Engine)(nil)

// Resolver translates scoped edit and delete requests into engine calls.
type Resolver struct {
	eng Primitives
}

// New creates a resolver over the given engine.
func New(eng Primitives) *Resolver {
	return &Resolver{eng: eng}
}

// EditResult reports what a scoped edit produced. Exactly one field is
// set, matching the scope that was applied.
type EditResult struct {
	// Exception is set for ScopeThis.
	Exception *series.Exception
	// Split is set for ScopeThisAndFuture.
	Split *engine.SplitResult
	// Series is set for ScopeAll.
	Series *series.Series
}

// Edit applies field overrides at the requested scope.
//
//   - ScopeThis stores a modified exception for the single date.
//   - ScopeThisAndFuture splits the series at the date; the overrides land
//     on the new series itself, which is authoritative from that date on.
//   - ScopeAll rewrites the series-level fields, touching every occurrence.
func (r *Resolver) Edit(ctx context.Context, ownerID, seriesID string, date time.Time, scope Scope, ov series.Overrides) (*EditResult, error) {
	switch scope {
	case ScopeThis:
		ex, err := r.eng.UpsertException(ctx, ownerID, seriesID, date, series.ExceptionModified, ov)
		if err != nil {
			return nil, err
		}
		return &EditResult{Exception: ex}, nil

	case ScopeThisAndFuture:
		res, err := r.eng.Split(ctx, ownerID, seriesID, date, ov)
		if err != nil {
			return nil, err
		}
		return &EditResult{Split: res}, nil

	case ScopeAll:
		sr, err := r.eng.UpdateSeries(ctx, ownerID, seriesID, ov)
		if err != nil {
			return nil, err
		}
		return &EditResult{Series: sr}, nil
	}
	return nil, fmt.Errorf("%w: unknown edit scope %q", series.ErrBadRequest, scope)
}

// Delete removes occurrences at the requested scope.
//
//   - ScopeThis cancels the single date via an exception.
//   - ScopeThisAndFuture ends the series the day before the date. When
//     that would leave no occurrences at all, the whole series is removed
//     instead.
//   - ScopeAll deletes the series, exceptions and tag links included.
func (r *Resolver) Delete(ctx context.Context, ownerID, seriesID string, date time.Time, scope Scope) error {
	switch scope {
	case ScopeThis:
		_, err := r.eng.UpsertException(ctx, ownerID, seriesID, date, series.ExceptionCancelled, series.Overrides{})
		return err

	case ScopeThisAndFuture:
		last := series.DateOf(date).AddDate(0, 0, -1)
		_, err := r.eng.TruncateSeries(ctx, ownerID, seriesID, last)
		if errors.Is(err, series.ErrBadRequest) {
			// Deleting from the first occurrence on is deleting everything.
			return r.eng.DeleteSeries(ctx, ownerID, seriesID)
		}
		return err

	case ScopeAll:
		return r.eng.DeleteSeries(ctx, ownerID, seriesID)
	}
	return fmt.Errorf("%w: unknown edit scope %q", series.ErrBadRequest, scope)
}
