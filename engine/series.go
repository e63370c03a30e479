package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kmikulski/libseries/recurrence"
	"github.com/kmikulski/libseries/series"
)

// CreateSeries validates and persists a new series. The recurrence bounds
// are checked against the rule's actual first occurrence before anything is
// written. When a ConflictDetector is configured, an overlap with the
// owner's existing occurrences fails the creation with series.ErrConflict.
func (e *Engine) CreateSeries(ctx context.Context, sr *series.Series) (*series.Series, error) {
	if sr.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", series.ErrBadRequest)
	}
	if sr.AnchorStart.IsZero() {
		return nil, fmt.Errorf("%w: anchor start is required", series.ErrBadRequest)
	}
	if sr.AnchorEnd != nil && sr.AnchorEnd.Before(sr.AnchorStart) {
		return nil, fmt.Errorf("%w: anchor end precedes anchor start", series.ErrBadRequest)
	}
	if err := sr.Recurrence.Validate(sr.AnchorStart); err != nil {
		return nil, err
	}

	loc := sr.AnchorStart.Location()
	first, ok := recurrence.First(sr.Recurrence, sr.AnchorStart, loc)
	if !ok {
		return nil, fmt.Errorf("%w: recurrence rule produces no occurrences", series.ErrBadRequest)
	}
	if end := sr.Recurrence.EndDate; end != nil && series.DateOf(end.In(loc)).Before(first) {
		return nil, fmt.Errorf("%w: recurrence end date %s precedes first occurrence %s",
			series.ErrBadRequest, series.DateKey(*end), series.DateKey(first))
	}

	if e.conflicts != nil {
		start := series.OnDate(first, sr.AnchorStart)
		end := start.Add(sr.Duration())
		overlapping, err := e.conflicts.Overlapping(ctx, sr.OwnerID, start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: conflict check: %v", series.ErrInternal, err)
		}
		if len(overlapping) > 0 {
			return nil, fmt.Errorf("%w: %d overlapping occurrence(s)", series.ErrConflict, len(overlapping))
		}
	}

	created := sr.Clone()
	if created.ID == "" {
		created.ID = e.newID()
	}
	if err := e.store.CreateSeries(ctx, created); err != nil {
		return nil, err
	}

	if len(sr.Tags) > 0 {
		if err := e.store.ReplaceTags(ctx, created.OwnerID, created.ID, sr.Tags); err != nil {
			if e.strictTagCopy {
				return nil, err
			}
			e.logger.Warn("tag write failed, series created without tags",
				"series_id", created.ID, "error", err)
			created.Tags = nil
		}
	}

	e.logger.Info("series created",
		"series_id", created.ID,
		"owner_id", created.OwnerID,
		"recurrence", string(created.Recurrence.Type))
	return created, nil
}

// UpdateSeries applies overrides at the series level: the "all" edit scope.
// Title and description replace the series' own fields; instance times
// re-anchor the time-of-day applied to every occurrence. The write is a
// compare-and-set against the state just read, so a concurrent mutation
// surfaces as series.ErrConflict.
func (e *Engine) UpdateSeries(ctx context.Context, ownerID, seriesID string, ov series.Overrides) (*series.Series, error) {
	sr, err := e.getOwned(ctx, ownerID, seriesID)
	if err != nil {
		return nil, err
	}
	expected := sr.UpdatedAt

	if v, ok := ov.Title.Get(); ok {
		sr.Title = v
	}
	sr.Description = ov.DescriptionValue(sr.Description)
	if v, ok := ov.InstanceStart.Get(); ok {
		sr.AnchorStart = series.OnDate(sr.AnchorStart, v)
	}
	if v, ok := ov.InstanceEnd.Get(); ok {
		end := series.OnDate(sr.AnchorStart, v)
		sr.AnchorEnd = &end
	}
	if sr.AnchorEnd != nil && sr.AnchorEnd.Before(sr.AnchorStart) {
		return nil, fmt.Errorf("%w: anchor end precedes anchor start", series.ErrBadRequest)
	}

	if err := e.store.UpdateSeries(ctx, sr, expected); err != nil {
		return nil, err
	}
	return sr, nil
}

// TruncateSeries ends the series on lastDate (inclusive): the
// "thisAndFuture" delete scope, minus the new series a split would create.
func (e *Engine) TruncateSeries(ctx context.Context, ownerID, seriesID string, lastDate time.Time) (*series.Series, error) {
	sr, err := e.getOwned(ctx, ownerID, seriesID)
	if err != nil {
		return nil, err
	}
	expected := sr.UpdatedAt

	loc := sr.AnchorStart.Location()
	last := series.DateOf(lastDate.In(loc))
	first, ok := recurrence.First(sr.Recurrence, sr.AnchorStart, loc)
	if !ok || last.Before(first) {
		return nil, fmt.Errorf("%w: truncation at %s would leave no occurrences",
			series.ErrBadRequest, series.DateKey(last))
	}

	sr.Recurrence.EndDate = &last
	if err := e.store.UpdateSeries(ctx, sr, expected); err != nil {
		return nil, err
	}
	return sr, nil
}

// DeleteSeries removes the series; the store cascades to its exceptions
// and tag links.
func (e *Engine) DeleteSeries(ctx context.Context, ownerID, seriesID string) error {
	if _, err := e.getOwned(ctx, ownerID, seriesID); err != nil {
		return err
	}
	return e.store.DeleteSeries(ctx, ownerID, seriesID)
}
