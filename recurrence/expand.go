// Package recurrence expands recurrence rules into candidate occurrence
// dates. Expansion is pure: it operates on calendar dates in an explicitly
// supplied location and never reads ambient time or timezone state.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/kmikulski/libseries/series"
)

var frequencies = map[series.RecurrenceType]rrule.Frequency{
	series.RecurrenceDaily:    rrule.DAILY,
	series.RecurrenceWeekly:   rrule.WEEKLY,
	series.RecurrenceMonthly:  rrule.MONTHLY,
	series.RecurrenceYearly:   rrule.YEARLY,
	series.RecurrenceWeekdays: rrule.WEEKLY,
}

var mondayToFriday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}

// Expand returns the candidate occurrence dates of rec within
// [windowStart, windowEnd], both inclusive. anchor supplies the date of the
// first occurrence; loc is the calendar the owner's dates are evaluated in
// (nil falls back to anchor's location). Results are midnights in loc,
// ascending. The sequence is always finite: it is bounded by the window and
// further by rec.EndDate and rec.Count when present.
//
// For RecurrenceNone the anchor date itself is returned iff it falls in the
// window.
func Expand(rec series.Recurrence, anchor, windowStart, windowEnd time.Time, loc *time.Location) ([]time.Time, error) {
	if loc == nil {
		loc = anchor.Location()
	}
	anchorDate := series.DateOf(anchor.In(loc))
	wStart := series.DateOf(windowStart.In(loc))
	wEnd := series.DateOf(windowEnd.In(loc))

	if wEnd.Before(wStart) {
		return nil, fmt.Errorf("%w: window end %s precedes window start %s",
			series.ErrBadRequest, series.DateKey(wEnd), series.DateKey(wStart))
	}

	if !rec.IsRecurring() {
		if anchorDate.Before(wStart) || anchorDate.After(wEnd) {
			return nil, nil
		}
		return []time.Time{anchorDate}, nil
	}

	r, err := buildRule(rec, anchorDate, loc)
	if err != nil {
		return nil, err
	}

	dates := r.Between(wStart, wEnd, true)
	if rec.Type == series.RecurrenceWeekdays {
		dates = dropWeekends(dates)
	}
	return dates, nil
}

// First returns the date of the first occurrence of rec, or false when the
// rule produces none at all.
func First(rec series.Recurrence, anchor time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = anchor.Location()
	}
	anchorDate := series.DateOf(anchor.In(loc))

	if !rec.IsRecurring() {
		return anchorDate, true
	}

	r, err := buildRule(rec, anchorDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	first := r.After(anchorDate, true)
	if first.IsZero() {
		return time.Time{}, false
	}
	if rec.Type == series.RecurrenceWeekdays {
		for isWeekend(first) {
			next := r.After(first, false)
			if next.IsZero() {
				return time.Time{}, false
			}
			first = next
		}
	}
	return first, true
}

// CountBefore returns how many occurrences of rec fall strictly before
// boundary. The splitter uses this to rebase count-bounded rules onto the
// child series.
func CountBefore(rec series.Recurrence, anchor, boundary time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = anchor.Location()
	}
	anchorDate := series.DateOf(anchor.In(loc))
	boundaryDate := series.DateOf(boundary.In(loc))
	if !boundaryDate.After(anchorDate) {
		return 0, nil
	}

	if !rec.IsRecurring() {
		return 1, nil
	}

	r, err := buildRule(rec, anchorDate, loc)
	if err != nil {
		return 0, err
	}
	dates := r.Between(anchorDate, boundaryDate.AddDate(0, 0, -1), true)
	if rec.Type == series.RecurrenceWeekdays {
		dates = dropWeekends(dates)
	}
	return len(dates), nil
}

// RuleString renders rec as an RFC 5545 RRULE value, DTSTART excluded.
// A non-recurring rec renders as the empty string.
func RuleString(rec series.Recurrence, anchor time.Time, loc *time.Location) (string, error) {
	if !rec.IsRecurring() {
		return "", nil
	}
	if loc == nil {
		loc = anchor.Location()
	}
	r, err := buildRule(rec, series.DateOf(anchor.In(loc)), loc)
	if err != nil {
		return "", err
	}
	return r.OrigOptions.RRuleString(), nil
}

// buildRule assembles the rrule for rec anchored at anchorDate (midnight in
// the evaluation location). A raw RRULE string wins over the structured
// fields; EndDate still clamps it.
func buildRule(rec series.Recurrence, anchorDate time.Time, loc *time.Location) (*rrule.RRule, error) {
	var opt *rrule.ROption

	if rec.Rule != "" {
		parsed, err := rrule.StrToROption(rec.Rule)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid recurrence rule %q: %v", series.ErrBadRequest, rec.Rule, err)
		}
		opt = parsed
	} else {
		freq, ok := frequencies[rec.Type]
		if !ok {
			return nil, fmt.Errorf("%w: recurrence type %q cannot be expanded", series.ErrBadRequest, rec.Type)
		}
		opt = &rrule.ROption{Freq: freq}
		if rec.Type == series.RecurrenceWeekdays {
			opt.Byweekday = mondayToFriday
		}
		opt.Interval = rec.Interval
		if rec.Count > 0 {
			opt.Count = rec.Count
		}
	}

	if opt.Interval < 1 {
		opt.Interval = 1
	}
	opt.Dtstart = anchorDate

	if rec.EndDate != nil {
		until := series.DateOf(rec.EndDate.In(loc))
		if opt.Until.IsZero() || until.Before(opt.Until) {
			opt.Until = until
		}
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid recurrence rule: %v", series.ErrBadRequest, err)
	}
	return r, nil
}

func dropWeekends(dates []time.Time) []time.Time {
	kept := dates[:0]
	for _, d := range dates {
		if !isWeekend(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
