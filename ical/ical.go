// Package ical bridges series and their exceptions to iCalendar objects.
// A series becomes a VCALENDAR holding one master VEVENT: the recurrence
// renders as RRULE, cancellations as EXDATE, and modified or moved
// occurrences as additional VEVENTs carrying a RECURRENCE-ID.
package ical

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/kmikulski/libseries/recurrence"
	"github.com/kmikulski/libseries/series"
)

const prodID = "-//libseries//Series Engine//EN"

const propRecurrenceID = "RECURRENCE-ID"

const (
	dateTimeFormat = "20060102T150405Z"
	dateFormat     = "20060102"
)

// Encode renders a series and its exceptions (keyed by series.DateKey, as
// the exception store returns them) as a calendar object.
func Encode(sr *series.Series, exceptions map[string]*series.Exception) (*goical.Calendar, error) {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, prodID)
	cal.Props.SetText(goical.PropVersion, "2.0")

	stamp := sr.UpdatedAt
	if stamp.IsZero() {
		stamp = sr.CreatedAt
	}
	if stamp.IsZero() {
		stamp = sr.AnchorStart
	}

	master := goical.NewEvent()
	master.Props.SetText(goical.PropUID, sr.ID)
	master.Props.SetText(goical.PropSummary, sr.Title)
	if sr.Description != "" {
		master.Props.SetText(goical.PropDescription, sr.Description)
	}
	master.Props.SetDateTime(goical.PropDateTimeStamp, stamp.UTC())
	master.Props.SetDateTime(goical.PropDateTimeStart, sr.AnchorStart)
	if sr.AnchorEnd != nil {
		master.Props.SetDateTime(goical.PropDateTimeEnd, *sr.AnchorEnd)
	}

	rule, err := recurrence.RuleString(sr.Recurrence, sr.AnchorStart, nil)
	if err != nil {
		return nil, err
	}
	if rule != "" {
		// Raw prop: SetText would escape the semicolons and commas the
		// RRULE grammar relies on.
		p := goical.NewProp(goical.PropRecurrenceRule)
		p.Value = rule
		master.Props.Set(p)
	}

	keys := make([]string, 0, len(exceptions))
	for k := range exceptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var exdates []string
	for _, k := range keys {
		ex := exceptions[k]
		if ex.Type == series.ExceptionCancelled {
			slot := series.OnDate(ex.Date, sr.AnchorStart)
			exdates = append(exdates, slot.UTC().Format(dateTimeFormat))
		}
	}
	if len(exdates) > 0 {
		p := goical.NewProp(goical.PropExceptionDates)
		p.Value = strings.Join(exdates, ",")
		master.Props.Set(p)
	}

	cal.Children = append(cal.Children, master.Component)

	for _, k := range keys {
		ex := exceptions[k]
		if ex.Type == series.ExceptionCancelled {
			continue
		}
		cal.Children = append(cal.Children, overrideEvent(sr, ex, stamp).Component)
	}

	return cal, nil
}

// EncodeTo writes the series as iCalendar text.
func EncodeTo(w io.Writer, sr *series.Series, exceptions map[string]*series.Exception) error {
	cal, err := Encode(sr, exceptions)
	if err != nil {
		return err
	}
	return goical.NewEncoder(w).Encode(cal)
}

// overrideEvent renders a modified or moved exception as a VEVENT tied to
// the master via RECURRENCE-ID. Fields the exception leaves nil fall back
// to the series' own values, matching what the materializer would produce.
func overrideEvent(sr *series.Series, ex *series.Exception, stamp time.Time) *goical.Event {
	origDate := ex.Date
	if ex.OriginalDate != nil {
		origDate = *ex.OriginalDate
	}

	event := goical.NewEvent()
	event.Props.SetText(goical.PropUID, sr.ID)
	event.Props.SetDateTime(goical.PropDateTimeStamp, stamp.UTC())

	recID := goical.NewProp(propRecurrenceID)
	recID.Value = series.OnDate(origDate, sr.AnchorStart).UTC().Format(dateTimeFormat)
	event.Props.Set(recID)

	title := sr.Title
	if ex.Title != nil {
		title = *ex.Title
	}
	event.Props.SetText(goical.PropSummary, title)

	description := sr.Description
	if ex.Description != nil {
		description = *ex.Description
	}
	if description != "" {
		event.Props.SetText(goical.PropDescription, description)
	}

	start := series.OnDate(ex.Date, sr.AnchorStart)
	if ex.InstanceStart != nil {
		start = *ex.InstanceStart
	}
	end := start.Add(sr.Duration())
	if ex.InstanceEnd != nil {
		end = *ex.InstanceEnd
	}
	event.Props.SetDateTime(goical.PropDateTimeStart, start)
	event.Props.SetDateTime(goical.PropDateTimeEnd, end)

	return event
}

// Decode reads a calendar produced by Encode (or any single-series
// iCalendar object) back into a series and its exceptions. The master
// VEVENT is the one without a RECURRENCE-ID; every other VEVENT becomes a
// modified or moved exception, and EXDATE entries become cancellations.
func Decode(cal *goical.Calendar) (*series.Series, []*series.Exception, error) {
	var master *goical.Component
	var overrides []*goical.Component

	for _, child := range cal.Children {
		if child.Name != goical.CompEvent {
			continue
		}
		if child.Props.Get(propRecurrenceID) != nil {
			overrides = append(overrides, child)
			continue
		}
		if master != nil {
			return nil, nil, fmt.Errorf("%w: calendar holds more than one master event", series.ErrBadRequest)
		}
		master = child
	}
	if master == nil {
		return nil, nil, fmt.Errorf("%w: calendar holds no master event", series.ErrBadRequest)
	}

	sr, err := decodeMaster(master)
	if err != nil {
		return nil, nil, err
	}

	var exceptions []*series.Exception

	if p := master.Props.Get(goical.PropExceptionDates); p != nil && p.Value != "" {
		for _, d := range parseDateList(p.Value, p.Params) {
			date := series.DateOf(d)
			exceptions = append(exceptions, &series.Exception{
				SeriesID: sr.ID,
				Date:     date,
				Type:     series.ExceptionCancelled,
			})
		}
	}

	for _, comp := range overrides {
		ex, err := decodeOverride(sr, comp)
		if err != nil {
			return nil, nil, err
		}
		exceptions = append(exceptions, ex)
	}

	return sr, exceptions, nil
}

// DecodeFrom reads iCalendar text.
func DecodeFrom(r io.Reader) (*series.Series, []*series.Exception, error) {
	cal, err := goical.NewDecoder(r).Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse calendar: %v", series.ErrBadRequest, err)
	}
	return Decode(cal)
}

func decodeMaster(comp *goical.Component) (*series.Series, error) {
	id, err := comp.Props.Text(goical.PropUID)
	if err != nil {
		return nil, fmt.Errorf("%w: event uid: %v", series.ErrBadRequest, err)
	}
	title, err := comp.Props.Text(goical.PropSummary)
	if err != nil {
		return nil, fmt.Errorf("%w: event summary: %v", series.ErrBadRequest, err)
	}
	description, err := comp.Props.Text(goical.PropDescription)
	if err != nil {
		return nil, fmt.Errorf("%w: event description: %v", series.ErrBadRequest, err)
	}

	start, err := comp.Props.DateTime(goical.PropDateTimeStart, nil)
	if err != nil || start.IsZero() {
		return nil, fmt.Errorf("%w: event has no usable start time", series.ErrBadRequest)
	}

	sr := &series.Series{
		ID:          id,
		Title:       title,
		Description: description,
		AnchorStart: start,
		Recurrence:  series.Recurrence{Type: series.RecurrenceNone},
	}

	if end, err := comp.Props.DateTime(goical.PropDateTimeEnd, nil); err == nil && !end.IsZero() {
		sr.AnchorEnd = &end
	}

	if p := comp.Props.Get(goical.PropRecurrenceRule); p != nil && p.Value != "" {
		rec, err := decodeRule(p.Value)
		if err != nil {
			return nil, err
		}
		sr.Recurrence = rec
	}

	return sr, nil
}

// decodeRule maps an RRULE value onto the structured recurrence model. The
// raw rule is kept alongside so evaluation stays faithful to parts the
// model does not express.
func decodeRule(value string) (series.Recurrence, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return series.Recurrence{}, fmt.Errorf("%w: invalid RRULE %q: %v", series.ErrBadRequest, value, err)
	}

	rec := series.Recurrence{Rule: value, Interval: opt.Interval, Count: opt.Count}
	switch opt.Freq {
	case rrule.DAILY:
		rec.Type = series.RecurrenceDaily
	case rrule.WEEKLY:
		rec.Type = series.RecurrenceWeekly
		if isMondayToFriday(opt.Byweekday) {
			rec.Type = series.RecurrenceWeekdays
		}
	case rrule.MONTHLY:
		rec.Type = series.RecurrenceMonthly
	case rrule.YEARLY:
		rec.Type = series.RecurrenceYearly
	default:
		return series.Recurrence{}, fmt.Errorf("%w: unsupported RRULE frequency in %q", series.ErrBadRequest, value)
	}

	if !opt.Until.IsZero() {
		until := opt.Until
		rec.EndDate = &until
	}
	return rec, nil
}

func isMondayToFriday(days []rrule.Weekday) bool {
	if len(days) != 5 {
		return false
	}
	seen := make(map[int]bool, 5)
	for _, d := range days {
		seen[d.Day()] = true
	}
	for _, d := range []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR} {
		if !seen[d.Day()] {
			return false
		}
	}
	return true
}

func decodeOverride(sr *series.Series, comp *goical.Component) (*series.Exception, error) {
	recIDProp := comp.Props.Get(propRecurrenceID)
	recID, err := parseDateTime(recIDProp.Value, recIDProp.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid RECURRENCE-ID %q: %v", series.ErrBadRequest, recIDProp.Value, err)
	}
	origDate := series.DateOf(recID)

	ex := &series.Exception{
		SeriesID: sr.ID,
		Date:     origDate,
		Type:     series.ExceptionModified,
	}

	if title, err := comp.Props.Text(goical.PropSummary); err == nil && title != "" && title != sr.Title {
		ex.Title = &title
	}
	if description, err := comp.Props.Text(goical.PropDescription); err == nil && description != "" && description != sr.Description {
		ex.Description = &description
	}

	start, err := comp.Props.DateTime(goical.PropDateTimeStart, nil)
	if err != nil || start.IsZero() {
		return nil, fmt.Errorf("%w: override event has no usable start time", series.ErrBadRequest)
	}
	ex.InstanceStart = &start
	if end, err := comp.Props.DateTime(goical.PropDateTimeEnd, nil); err == nil && !end.IsZero() {
		ex.InstanceEnd = &end
	}

	if !series.DateOf(start).Equal(origDate) {
		ex.Type = series.ExceptionMoved
		ex.OriginalDate = &origDate
	}

	return ex, nil
}

// parseDateList splits a comma-separated EXDATE/RDATE value. A VALUE=DATE
// parameter switches to date-only parsing; date-time entries must be in
// UTC form, which is what Encode emits.
func parseDateList(value string, params map[string][]string) []time.Time {
	var dates []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if d, err := parseDateTime(part, params); err == nil {
			dates = append(dates, d)
		}
	}
	return dates
}

func parseDateTime(value string, params map[string][]string) (time.Time, error) {
	if v := params["VALUE"]; len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		t, err := time.Parse(dateFormat, value)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(dateFormat, value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
