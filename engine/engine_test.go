package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kmikulski/libseries/series"
	"github.com/kmikulski/libseries/storage/memory"
)

// Mondays in March 2024: 4th, 11th, 18th, 25th.
var (
	mondayAnchor = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	mondayEnd    = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	marchStart   = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	marchEnd     = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	e := New(store, opts...)
	t.Cleanup(e.Stop)
	return e, store
}

// weeklyStandup creates the scenario-A series: weekly, Monday 09:00-10:00,
// no end date.
func weeklyStandup(t *testing.T, e *Engine, owner string) *series.Series {
	t.Helper()
	end := mondayEnd
	created, err := e.CreateSeries(context.Background(), &series.Series{
		OwnerID:     owner,
		Title:       "Weekly standup",
		Description: "Monday sync",
		AnchorStart: mondayAnchor,
		AnchorEnd:   &end,
		Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		Tags:        []series.Tag{{ID: "t-work", Name: "work"}},
	})
	require.NoError(t, err)
	return created
}

func TestExpandOccurrencesWeekly(t *testing.T) {
	// Scenario A: four weeks of a weekly 09:00-10:00 series yield four
	// occurrences, one per week, all at 09:00-10:00.
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)

	require.Len(t, occs, 4)
	for i, want := range []time.Time{day(2024, 3, 4), day(2024, 3, 11), day(2024, 3, 18), day(2024, 3, 25)} {
		assert.True(t, occs[i].Date.Equal(want), "occurrence %d date", i)
		assert.Equal(t, 9, occs[i].Start.Hour())
		assert.Equal(t, 10, occs[i].End.Hour())
		assert.Equal(t, "Weekly standup", occs[i].Title)
		assert.Empty(t, occs[i].Exception)
	}
}

func TestExpandOccurrencesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	first, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	second, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpandOccurrencesUnknownOwner(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.ExpandOccurrences(ctx, "bob", sr.ID, marchStart, marchEnd, time.UTC)
	assert.ErrorIs(t, err, series.ErrNotFound)
}

func TestCancelledExceptionSuppressesOccurrence(t *testing.T) {
	// Scenario B: cancelling week 2 leaves three occurrences.
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.UpsertException(ctx, "alice", sr.ID, day(2024, 3, 11), series.ExceptionCancelled, series.Overrides{})
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)

	require.Len(t, occs, 3)
	for _, occ := range occs {
		assert.False(t, occ.Date.Equal(day(2024, 3, 11)))
	}
}

func TestModifiedExceptionPrecedence(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.UpsertException(ctx, "alice", sr.ID, day(2024, 3, 11), series.ExceptionModified, series.Overrides{
		Title: mo.Some("Retro instead"),
	})
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	require.Len(t, occs, 4)

	// Overridden fields come from the exception, everything else from
	// the series; the slot itself is unchanged.
	modified := occs[1]
	assert.True(t, modified.Date.Equal(day(2024, 3, 11)))
	assert.Equal(t, "Retro instead", modified.Title)
	assert.Equal(t, "Monday sync", modified.Description)
	assert.Equal(t, 9, modified.Start.Hour())
	assert.Equal(t, series.ExceptionModified, modified.Exception)
}

func TestMovedExceptionAppearsOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	newStart := time.Date(2024, 3, 13, 14, 0, 0, 0, time.UTC)
	_, err := e.UpsertException(ctx, "alice", sr.ID, day(2024, 3, 11), series.ExceptionMoved, series.Overrides{
		InstanceStart: mo.Some(newStart),
	})
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)

	// Exactly one occurrence for the moved date, at the new slot; the
	// original slot contributes nothing.
	require.Len(t, occs, 4)
	var moved []series.Occurrence
	for _, occ := range occs {
		if occ.Date.Equal(day(2024, 3, 11)) {
			moved = append(moved, occ)
		}
	}
	require.Len(t, moved, 1)
	assert.True(t, moved[0].Start.Equal(newStart))
	assert.True(t, moved[0].End.Equal(newStart.Add(time.Hour)))
	require.NotNil(t, moved[0].OriginalDate)
	assert.True(t, moved[0].OriginalDate.Equal(day(2024, 3, 11)))

	// Ordering follows the effective start: the move to Wednesday puts
	// it after the Monday it vacated would have been.
	assert.True(t, occs[1].Start.Equal(newStart))
}

func TestMovedExceptionRequiresStart(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.UpsertException(ctx, "alice", sr.ID, day(2024, 3, 11), series.ExceptionMoved, series.Overrides{})
	assert.ErrorIs(t, err, series.ErrBadRequest)
}

func TestModifiedExceptionRequiresOverrides(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.UpsertException(ctx, "alice", sr.ID, day(2024, 3, 11), series.ExceptionModified, series.Overrides{})
	assert.ErrorIs(t, err, series.ErrBadRequest)
}

func TestUpsertExceptionReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	date := day(2024, 3, 11)
	_, err := e.UpsertException(ctx, "alice", sr.ID, date, series.ExceptionCancelled, series.Overrides{})
	require.NoError(t, err)
	_, err = e.UpsertException(ctx, "alice", sr.ID, date, series.ExceptionModified, series.Overrides{
		Title: mo.Some("Back on"),
	})
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)

	// The modification replaced the cancellation, so all four occur.
	require.Len(t, occs, 4)
	assert.Equal(t, "Back on", occs[1].Title)
}

func TestDeleteExceptionRestoresOccurrence(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	date := day(2024, 3, 11)
	_, err := e.UpsertException(ctx, "alice", sr.ID, date, series.ExceptionCancelled, series.Overrides{})
	require.NoError(t, err)
	require.NoError(t, e.DeleteException(ctx, "alice", sr.ID, date))

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	assert.Len(t, occs, 4)
}

func TestNonRecurringSeriesExpandsOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	created, err := e.CreateSeries(ctx, &series.Series{
		OwnerID:     "alice",
		Title:       "Dentist",
		AnchorStart: time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC),
		Recurrence:  series.Recurrence{Type: series.RecurrenceNone},
	})
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", created.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, 15, occs[0].Start.Hour())

	occs, err = e.ExpandOccurrences(ctx, "alice", created.ID, day(2024, 4, 1), day(2024, 4, 30), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestCreateSeriesValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	t.Run("missing owner", func(t *testing.T) {
		_, err := e.CreateSeries(ctx, &series.Series{
			AnchorStart: mondayAnchor,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		})
		assert.ErrorIs(t, err, series.ErrBadRequest)
	})

	t.Run("end date before first occurrence", func(t *testing.T) {
		before := day(2024, 3, 1)
		_, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: mondayAnchor,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly, EndDate: &before},
		})
		assert.ErrorIs(t, err, series.ErrBadRequest)
	})

	t.Run("weekend anchor with end date before first weekday", func(t *testing.T) {
		// Anchored Saturday Mar 2; the first weekdays occurrence is
		// Monday Mar 4, so ending on Sunday Mar 3 leaves nothing.
		sunday := day(2024, 3, 3)
		_, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekdays, EndDate: &sunday},
		})
		assert.ErrorIs(t, err, series.ErrBadRequest)
	})

	t.Run("anchor end before anchor start", func(t *testing.T) {
		end := mondayAnchor.Add(-time.Hour)
		_, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: mondayAnchor,
			AnchorEnd:   &end,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		})
		assert.ErrorIs(t, err, series.ErrBadRequest)
	})
}

func TestCreateSeriesConflictDetection(t *testing.T) {
	ctx := context.Background()

	t.Run("overlap rejected", func(t *testing.T) {
		detector := &MockConflictDetector{}
		detector.On("Overlapping", mock.Anything, "alice", mock.Anything, mock.Anything).
			Return([]series.Occurrence{{SeriesID: "other"}}, nil)

		e, _ := newTestEngine(t, WithConflictDetector(detector))
		_, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: mondayAnchor,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		})
		assert.ErrorIs(t, err, series.ErrConflict)
		detector.AssertExpectations(t)
	})

	t.Run("no overlap proceeds", func(t *testing.T) {
		detector := &MockConflictDetector{}
		detector.On("Overlapping", mock.Anything, "alice", mock.Anything, mock.Anything).
			Return([]series.Occurrence{}, nil)

		e, _ := newTestEngine(t, WithConflictDetector(detector))
		created, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: mondayAnchor,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
	})

	t.Run("detector failure surfaces", func(t *testing.T) {
		detector := &MockConflictDetector{}
		detector.On("Overlapping", mock.Anything, "alice", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("calendar service down"))

		e, _ := newTestEngine(t, WithConflictDetector(detector))
		_, err := e.CreateSeries(ctx, &series.Series{
			OwnerID:     "alice",
			AnchorStart: mondayAnchor,
			Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
		})
		assert.ErrorIs(t, err, series.ErrInternal)
	})
}

func TestUpdateSeriesAllScope(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	updated, err := e.UpdateSeries(ctx, "alice", sr.ID, series.Overrides{
		Title:       mo.Some("Team sync"),
		Description: mo.Some(mo.None[string]()),
	})
	require.NoError(t, err)
	assert.Equal(t, "Team sync", updated.Title)
	assert.Empty(t, updated.Description)

	// Every occurrence reflects the series-level change.
	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	for _, occ := range occs {
		assert.Equal(t, "Team sync", occ.Title)
		assert.Empty(t, occ.Description)
	}
}

func TestTruncateSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	_, err := e.TruncateSeries(ctx, "alice", sr.ID, day(2024, 3, 17))
	require.NoError(t, err)

	occs, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	require.NoError(t, err)
	require.Len(t, occs, 2)

	// Truncating before the first occurrence is rejected.
	_, err = e.TruncateSeries(ctx, "alice", sr.ID, day(2024, 3, 1))
	assert.ErrorIs(t, err, series.ErrBadRequest)
}

func TestDeleteSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	sr := weeklyStandup(t, e, "alice")

	require.NoError(t, e.DeleteSeries(ctx, "alice", sr.ID))
	_, err := e.ExpandOccurrences(ctx, "alice", sr.ID, marchStart, marchEnd, time.UTC)
	assert.ErrorIs(t, err, series.ErrNotFound)

	assert.ErrorIs(t, e.DeleteSeries(ctx, "bob", sr.ID), series.ErrNotFound)
}
