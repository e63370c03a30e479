package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kmikulski/libseries/recurrence"
	"github.com/kmikulski/libseries/series"
)

// SplitResult identifies the two series a split leaves behind.
type SplitResult struct {
	ParentID    string
	NewSeriesID string
	SplitDate   time.Time
}

// Split terminates the series the day before splitDate and creates a new,
// independent series owning every occurrence from splitDate on. The parent
// keeps exactly its occurrences before splitDate; the new series inherits
// the rule, the parent's original end bound, its reminders, and value
// copies of its tags. Field overrides apply to the new series only.
//
// The operation is atomic in effect: if creating the new series fails after
// the parent was already truncated, the parent is restored verbatim
// (end date and modification timestamp included) before the error is
// surfaced. The one deliberate exception is the tag copy, which is logged
// and dropped on failure rather than rolled back, unless the engine was
// built WithStrictTagCopy.
func (e *Engine) Split(ctx context.Context, ownerID, seriesID string, splitDate time.Time, ov series.Overrides) (*SplitResult, error) {
	parent, err := e.getOwned(ctx, ownerID, seriesID)
	if err != nil {
		return nil, err
	}
	if !parent.Recurrence.IsRecurring() {
		return nil, fmt.Errorf("%w: series %s does not recur", series.ErrBadRequest, seriesID)
	}

	loc := parent.AnchorStart.Location()
	splitDay := series.DateOf(splitDate.In(loc))

	first, ok := recurrence.First(parent.Recurrence, parent.AnchorStart, loc)
	if !ok {
		return nil, fmt.Errorf("%w: series %s has no occurrences", series.ErrBadRequest, seriesID)
	}
	if !splitDay.After(first) {
		return nil, fmt.Errorf("%w: split date %s must fall after the first occurrence %s",
			series.ErrBadRequest, series.DateKey(splitDay), series.DateKey(first))
	}
	if end := parent.Recurrence.EndDate; end != nil && splitDay.After(series.DateOf(end.In(loc))) {
		return nil, fmt.Errorf("%w: split date %s is beyond the series end %s",
			series.ErrBadRequest, series.DateKey(splitDay), series.DateKey(*end))
	}

	// For count-bounded rules the child gets the unconsumed remainder, so
	// parent and child together still produce the original occurrences.
	consumed := 0
	if parent.Recurrence.Count > 0 && parent.Recurrence.Rule == "" {
		consumed, err = recurrence.CountBefore(parent.Recurrence, parent.AnchorStart, splitDay, loc)
		if err != nil {
			return nil, err
		}
		if consumed >= parent.Recurrence.Count {
			return nil, fmt.Errorf("%w: split date %s is beyond the last occurrence",
				series.ErrBadRequest, series.DateKey(splitDay))
		}
	}

	original := parent.Clone()
	expected := parent.UpdatedAt

	// Step 1: truncate the parent the day before the split. The
	// compare-and-set keeps a concurrent split or edit from being
	// silently overwritten.
	newEnd := splitDay.AddDate(0, 0, -1)
	parent.Recurrence.EndDate = &newEnd
	if err := e.store.UpdateSeries(ctx, parent, expected); err != nil {
		return nil, err
	}

	// Step 2: create the child carrying the tail of the timeline.
	child := buildChild(original, splitDay, ov, consumed, e.newID())
	if err := e.store.CreateSeries(ctx, child); err != nil {
		e.rollbackParent(ctx, original)
		return nil, fmt.Errorf("%w: create split series: %v", series.ErrInternal, err)
	}

	// Step 3: duplicate the tag links. Failing here leaves a valid,
	// untagged series, which is preferable to unwinding both writes.
	if len(original.Tags) > 0 {
		if err := e.store.ReplaceTags(ctx, ownerID, child.ID, series.CloneTags(original.Tags)); err != nil {
			if e.strictTagCopy {
				if delErr := e.store.DeleteSeries(ctx, ownerID, child.ID); delErr != nil {
					e.logger.Error("strict tag copy: removing split series failed",
						"series_id", child.ID, "error", delErr)
				}
				e.rollbackParent(ctx, original)
				return nil, fmt.Errorf("%w: copy tags to split series: %v", series.ErrInternal, err)
			}
			e.logger.Warn("tag copy to split series failed, continuing without tags",
				"parent_id", original.ID,
				"series_id", child.ID,
				"error", err)
		}
	}

	e.logger.Info("series split",
		"parent_id", original.ID,
		"new_series_id", child.ID,
		"split_date", series.DateKey(splitDay))

	return &SplitResult{
		ParentID:    original.ID,
		NewSeriesID: child.ID,
		SplitDate:   splitDay,
	}, nil
}

// rollbackParent restores the parent exactly as it was before the split,
// modification timestamp included.
func (e *Engine) rollbackParent(ctx context.Context, original *series.Series) {
	if err := e.store.RestoreSeries(ctx, original); err != nil {
		e.logger.Error("rollback of split parent failed",
			"series_id", original.ID, "error", err)
	}
}

// buildChild derives the new series from the parent. The anchor keeps the
// parent's time-of-day, re-applied to the split date; explicit overrides
// win. The child's end bound is the parent's ORIGINAL end date, so it
// inherits the tail of the timeline rather than becoming open-ended.
func buildChild(parent *series.Series, splitDay time.Time, ov series.Overrides, consumed int, id string) *series.Series {
	start := series.OnDate(splitDay, parent.AnchorStart)
	if v, ok := ov.InstanceStart.Get(); ok {
		start = v
	}

	var end *time.Time
	if parent.AnchorEnd != nil {
		v := start.Add(parent.Duration())
		end = &v
	}
	if v, ok := ov.InstanceEnd.Get(); ok {
		end = &v
	}

	rec := parent.Recurrence
	if rec.EndDate != nil {
		v := *rec.EndDate
		rec.EndDate = &v
	}
	if rec.Count > 0 && rec.Rule == "" {
		rec.Count -= consumed
	}

	var reminders []int
	if parent.ReminderMinutes != nil {
		reminders = append([]int(nil), parent.ReminderMinutes...)
	}

	child := &series.Series{
		ID:              id,
		OwnerID:         parent.OwnerID,
		Title:           ov.Title.OrElse(parent.Title),
		Description:     ov.DescriptionValue(parent.Description),
		AnchorStart:     start,
		AnchorEnd:       end,
		Recurrence:      rec,
		ReminderMinutes: reminders,
	}
	return child
}
