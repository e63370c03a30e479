package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kmikulski/libseries/series"
)

// UpsertException writes a per-occurrence override for the given date.
// Writing a second exception for the same (series, date) replaces the
// first. Cancellations ignore the override fields; moves require an
// InstanceStart and record the pre-move date for display and undo.
func (e *Engine) UpsertException(ctx context.Context, ownerID, seriesID string, date time.Time, exType series.ExceptionType, ov series.Overrides) (*series.Exception, error) {
	if !exType.Valid() {
		return nil, fmt.Errorf("%w: unknown exception type %q", series.ErrBadRequest, exType)
	}

	if _, err := e.getOwned(ctx, ownerID, seriesID); err != nil {
		return nil, err
	}

	instanceDate := series.DateOf(date)
	ex := &series.Exception{
		SeriesID: seriesID,
		Date:     instanceDate,
		Type:     exType,
	}

	switch exType {
	case series.ExceptionCancelled:
		// A cancellation carries no payload.
	case series.ExceptionMoved:
		if ov.InstanceStart.IsAbsent() {
			return nil, fmt.Errorf("%w: moving an occurrence requires a new start time", series.ErrBadRequest)
		}
		ex.Title = ov.TitlePtr()
		ex.Description = ov.DescriptionPtr()
		ex.InstanceStart = ov.InstanceStartPtr()
		ex.InstanceEnd = ov.InstanceEndPtr()
		ex.OriginalDate = &instanceDate
	case series.ExceptionModified:
		if ov.IsZero() {
			return nil, fmt.Errorf("%w: modification overrides nothing", series.ErrBadRequest)
		}
		ex.Title = ov.TitlePtr()
		ex.Description = ov.DescriptionPtr()
		ex.InstanceStart = ov.InstanceStartPtr()
		ex.InstanceEnd = ov.InstanceEndPtr()
	}

	stored, err := e.store.UpsertException(ctx, ex)
	if err != nil {
		return nil, err
	}

	e.logger.Info("exception stored",
		"series_id", seriesID,
		"date", series.DateKey(instanceDate),
		"type", string(exType))
	return stored, nil
}

// DeleteException removes the override at (series, date), restoring the
// occurrence the rule generates.
func (e *Engine) DeleteException(ctx context.Context, ownerID, seriesID string, date time.Time) error {
	if _, err := e.getOwned(ctx, ownerID, seriesID); err != nil {
		return err
	}
	return e.store.DeleteException(ctx, seriesID, date)
}
