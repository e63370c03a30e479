package engine

import (
	"context"
	"sort"
	"time"

	"github.com/kmikulski/libseries/series"
)

// ExpandOccurrences materializes the occurrences of a series within
// [windowStart, windowEnd]: candidate dates from the recurrence rule with
// the per-date exceptions laid over them. loc is the calendar the owner's
// dates are evaluated in; nil falls back to the series' anchor location.
//
// Output is sorted by start time ascending, ties broken by series id and
// then date, so identical inputs always produce identical output.
func (e *Engine) ExpandOccurrences(ctx context.Context, ownerID, seriesID string, windowStart, windowEnd time.Time, loc *time.Location) ([]series.Occurrence, error) {
	sr, err := e.getOwned(ctx, ownerID, seriesID)
	if err != nil {
		return nil, err
	}

	dates, err := e.eval.Expand(sr.Recurrence, sr.AnchorStart, windowStart, windowEnd, loc)
	if err != nil {
		return nil, err
	}

	exceptions, err := e.store.GetExceptions(ctx, seriesID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	occurrences := overlay(sr, dates, exceptions)
	sortOccurrences(occurrences)
	return occurrences, nil
}

// overlay applies exceptions onto candidate dates. Cancelled candidates are
// suppressed; moved candidates appear once, at the exception's new slot;
// modified candidates keep their slot with fields overridden.
func overlay(sr *series.Series, dates []time.Time, exceptions map[string]*series.Exception) []series.Occurrence {
	duration := sr.Duration()
	occurrences := make([]series.Occurrence, 0, len(dates))

	for _, date := range dates {
		ex := exceptions[series.DateKey(date)]
		if ex != nil && ex.Type == series.ExceptionCancelled {
			continue
		}

		occ := series.Occurrence{
			SeriesID:    sr.ID,
			Date:        date,
			Title:       sr.Title,
			Description: sr.Description,
			Start:       series.OnDate(date, sr.AnchorStart),
		}
		occ.End = occ.Start.Add(duration)

		if ex != nil {
			occ.Exception = ex.Type
			if ex.Title != nil {
				occ.Title = *ex.Title
			}
			if ex.Description != nil {
				occ.Description = *ex.Description
			}
			if ex.InstanceStart != nil {
				occ.Start = *ex.InstanceStart
				occ.End = occ.Start.Add(duration)
			}
			if ex.InstanceEnd != nil {
				occ.End = *ex.InstanceEnd
			}
			if ex.Type == series.ExceptionMoved {
				if ex.OriginalDate != nil {
					occ.OriginalDate = ex.OriginalDate
				} else {
					d := date
					occ.OriginalDate = &d
				}
			}
		}

		occurrences = append(occurrences, occ)
	}
	return occurrences
}

func sortOccurrences(occurrences []series.Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.SeriesID != b.SeriesID {
			return a.SeriesID < b.SeriesID
		}
		return a.Date.Before(b.Date)
	})
}
