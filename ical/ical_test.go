package ical

import (
	"bytes"
	"testing"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmikulski/libseries/series"
)

var (
	mondayAnchor = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	mondayEnd    = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weeklySeries() *series.Series {
	end := mondayEnd
	return &series.Series{
		ID:          "s1",
		OwnerID:     "alice",
		Title:       "Weekly standup",
		Description: "Monday sync",
		AnchorStart: mondayAnchor,
		AnchorEnd:   &end,
		Recurrence:  series.Recurrence{Type: series.RecurrenceWeekly},
	}
}

func findMaster(t *testing.T, cal *goical.Calendar) *goical.Component {
	t.Helper()
	for _, child := range cal.Children {
		if child.Name == goical.CompEvent && child.Props.Get(propRecurrenceID) == nil {
			return child
		}
	}
	t.Fatal("no master event in calendar")
	return nil
}

func TestEncodeMasterEvent(t *testing.T) {
	cal, err := Encode(weeklySeries(), nil)
	require.NoError(t, err)

	master := findMaster(t, cal)

	uid, err := master.Props.Text(goical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "s1", uid)

	summary, err := master.Props.Text(goical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Weekly standup", summary)

	rule := master.Props.Get(goical.PropRecurrenceRule)
	require.NotNil(t, rule)
	assert.Contains(t, rule.Value, "FREQ=WEEKLY")

	start, err := master.Props.DateTime(goical.PropDateTimeStart, nil)
	require.NoError(t, err)
	assert.True(t, start.Equal(mondayAnchor))
	end, err := master.Props.DateTime(goical.PropDateTimeEnd, nil)
	require.NoError(t, err)
	assert.True(t, end.Equal(mondayEnd))
}

func TestEncodeCancellationAsExdate(t *testing.T) {
	date := day(2024, 3, 11)
	exceptions := map[string]*series.Exception{
		series.DateKey(date): {SeriesID: "s1", Date: date, Type: series.ExceptionCancelled},
	}

	cal, err := Encode(weeklySeries(), exceptions)
	require.NoError(t, err)

	master := findMaster(t, cal)
	exdate := master.Props.Get(goical.PropExceptionDates)
	require.NotNil(t, exdate)
	// Cancellations point at the occurrence slot, anchor time-of-day
	// included.
	assert.Equal(t, "20240311T090000Z", exdate.Value)

	// A cancellation produces no override VEVENT.
	assert.Len(t, cal.Children, 1)
}

func TestEncodeOverrideEvent(t *testing.T) {
	date := day(2024, 3, 11)
	title := "Planning special"
	exceptions := map[string]*series.Exception{
		series.DateKey(date): {
			SeriesID: "s1",
			Date:     date,
			Type:     series.ExceptionModified,
			Title:    &title,
		},
	}

	cal, err := Encode(weeklySeries(), exceptions)
	require.NoError(t, err)
	require.Len(t, cal.Children, 2)

	override := cal.Children[1]
	recID := override.Props.Get(propRecurrenceID)
	require.NotNil(t, recID)
	assert.Equal(t, "20240311T090000Z", recID.Value)

	summary, err := override.Props.Text(goical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Planning special", summary)

	// Fields the exception does not override fall back to the series.
	start, err := override.Props.DateTime(goical.PropDateTimeStart, nil)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)))
}

func TestRoundTrip(t *testing.T) {
	sr := weeklySeries()
	newTitle := "Planning special"
	movedStart := time.Date(2024, 3, 20, 14, 0, 0, 0, time.UTC)
	cancelDate := day(2024, 3, 25)
	modDate := day(2024, 3, 11)
	moveDate := day(2024, 3, 18)

	exceptions := map[string]*series.Exception{
		series.DateKey(cancelDate): {SeriesID: "s1", Date: cancelDate, Type: series.ExceptionCancelled},
		series.DateKey(modDate): {
			SeriesID: "s1", Date: modDate, Type: series.ExceptionModified, Title: &newTitle,
		},
		series.DateKey(moveDate): {
			SeriesID: "s1", Date: moveDate, Type: series.ExceptionMoved,
			InstanceStart: &movedStart, OriginalDate: &moveDate,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeTo(&buf, sr, exceptions))

	decoded, decodedExceptions, err := DecodeFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, "s1", decoded.ID)
	assert.Equal(t, "Weekly standup", decoded.Title)
	assert.Equal(t, "Monday sync", decoded.Description)
	assert.True(t, decoded.AnchorStart.Equal(mondayAnchor))
	require.NotNil(t, decoded.AnchorEnd)
	assert.True(t, decoded.AnchorEnd.Equal(mondayEnd))
	assert.Equal(t, series.RecurrenceWeekly, decoded.Recurrence.Type)

	require.Len(t, decodedExceptions, 3)
	byType := map[series.ExceptionType]*series.Exception{}
	for _, ex := range decodedExceptions {
		byType[ex.Type] = ex
	}

	cancelled := byType[series.ExceptionCancelled]
	require.NotNil(t, cancelled)
	assert.True(t, cancelled.Date.Equal(cancelDate))

	modified := byType[series.ExceptionModified]
	require.NotNil(t, modified)
	assert.True(t, modified.Date.Equal(modDate))
	require.NotNil(t, modified.Title)
	assert.Equal(t, newTitle, *modified.Title)

	moved := byType[series.ExceptionMoved]
	require.NotNil(t, moved)
	assert.True(t, moved.Date.Equal(moveDate))
	require.NotNil(t, moved.OriginalDate)
	assert.True(t, moved.OriginalDate.Equal(moveDate))
	require.NotNil(t, moved.InstanceStart)
	assert.True(t, moved.InstanceStart.Equal(movedStart))
}

func TestDecodeRuleVariants(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want series.RecurrenceType
	}{
		{"daily", "FREQ=DAILY", series.RecurrenceDaily},
		{"weekly", "FREQ=WEEKLY;INTERVAL=2", series.RecurrenceWeekly},
		{"monthly", "FREQ=MONTHLY", series.RecurrenceMonthly},
		{"yearly", "FREQ=YEARLY", series.RecurrenceYearly},
		{"weekdays", "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR", series.RecurrenceWeekdays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := decodeRule(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Type)
			assert.Equal(t, tt.rule, rec.Rule)
		})
	}

	t.Run("until becomes end date", func(t *testing.T) {
		rec, err := decodeRule("FREQ=WEEKLY;UNTIL=20240331T000000Z")
		require.NoError(t, err)
		require.NotNil(t, rec.EndDate)
		assert.True(t, rec.EndDate.Equal(day(2024, 3, 31)))
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := decodeRule("FREQ=SOMETIMES")
		assert.ErrorIs(t, err, series.ErrBadRequest)
	})
}

func TestDecodeWithoutMasterEvent(t *testing.T) {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, prodID)
	cal.Props.SetText(goical.PropVersion, "2.0")

	_, _, err := Decode(cal)
	assert.ErrorIs(t, err, series.ErrBadRequest)
}

func TestDecodeNonRecurringEvent(t *testing.T) {
	cal, err := Encode(&series.Series{
		ID:          "s2",
		Title:       "One-off",
		AnchorStart: mondayAnchor,
		Recurrence:  series.Recurrence{Type: series.RecurrenceNone},
	}, nil)
	require.NoError(t, err)

	decoded, exceptions, err := Decode(cal)
	require.NoError(t, err)
	assert.Equal(t, series.RecurrenceNone, decoded.Recurrence.Type)
	assert.Empty(t, exceptions)
	assert.Nil(t, decoded.AnchorEnd)
}
