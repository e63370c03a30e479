// Package series defines the domain model of the recurring series engine:
// the series template, per-occurrence exceptions, materialized occurrences
// and the shared error taxonomy.
package series

import (
	"time"
)

// Series is a recurring template. Occurrences are never stored; they are
// derived on demand from the anchor times, the recurrence rule and the
// per-date exceptions.
type Series struct {
	ID      string
	OwnerID string

	// Display payload, opaque to the engine.
	Title       string
	Description string

	// AnchorStart carries the time-of-day (and location) applied to every
	// generated occurrence; its date component is the date of the first
	// occurrence. AnchorEnd is optional, nil means no duration.
	AnchorStart time.Time
	AnchorEnd   *time.Time

	Recurrence Recurrence

	// Tags are value copies. Splitting a series duplicates them, so later
	// edits to one series' tags never affect the other.
	Tags []Tag

	// ReminderMinutes are notification lead times in minutes before each
	// occurrence start. Copied verbatim on split. Delivery is not this
	// engine's job.
	ReminderMinutes []int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag is a label attached to a series.
type Tag struct {
	ID   string
	Name string
}

// Duration returns the anchor duration, or 0 if the series has no end time.
func (s *Series) Duration() time.Duration {
	if s.AnchorEnd == nil {
		return 0
	}
	return s.AnchorEnd.Sub(s.AnchorStart)
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	c := *s
	if s.AnchorEnd != nil {
		end := *s.AnchorEnd
		c.AnchorEnd = &end
	}
	if s.Recurrence.EndDate != nil {
		end := *s.Recurrence.EndDate
		c.Recurrence.EndDate = &end
	}
	c.Tags = CloneTags(s.Tags)
	if s.ReminderMinutes != nil {
		c.ReminderMinutes = append([]int(nil), s.ReminderMinutes...)
	}
	return &c
}

// CloneTags copies a tag slice so the result shares nothing with the input.
func CloneTags(tags []Tag) []Tag {
	if tags == nil {
		return nil
	}
	return append([]Tag(nil), tags...)
}

// ExceptionType classifies a per-occurrence override.
type ExceptionType string

const (
	// ExceptionModified overrides individual fields of one occurrence.
	ExceptionModified ExceptionType = "modified"
	// ExceptionCancelled suppresses one occurrence.
	ExceptionCancelled ExceptionType = "cancelled"
	// ExceptionMoved relocates one occurrence to a new start/end.
	ExceptionMoved ExceptionType = "moved"
)

// Valid reports whether t is a known exception type.
func (t ExceptionType) Valid() bool {
	switch t {
	case ExceptionModified, ExceptionCancelled, ExceptionMoved:
		return true
	}
	return false
}

// Exception is a per-occurrence override, keyed by (SeriesID, Date).
// At most one exception exists per key; writing a second one replaces the
// first (upsert).
type Exception struct {
	SeriesID string
	// Date is the candidate occurrence date this exception applies to,
	// normalized to midnight.
	Date time.Time

	Type ExceptionType

	// Override fields. nil means "inherit from the series".
	Title         *string
	Description   *string
	InstanceStart *time.Time
	InstanceEnd   *time.Time

	// OriginalDate is populated only for moved exceptions and records
	// where the occurrence was before the move, for display and undo.
	OriginalDate *time.Time
}

// Clone returns a deep copy of the exception.
func (e *Exception) Clone() *Exception {
	c := *e
	c.Title = cloneString(e.Title)
	c.Description = cloneString(e.Description)
	c.InstanceStart = cloneTime(e.InstanceStart)
	c.InstanceEnd = cloneTime(e.InstanceEnd)
	c.OriginalDate = cloneTime(e.OriginalDate)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Occurrence is one concrete, dated instance of a series after exception
// overlay. It is derived on demand and never persisted; its only identity
// is (SeriesID, Date).
type Occurrence struct {
	SeriesID string
	// Date is the candidate date the rule produced, even when the
	// occurrence was moved away from it.
	Date time.Time

	Title       string
	Description string

	Start time.Time
	// End equals Start when the series has no duration.
	End time.Time

	// Exception is the applied exception type, or empty when the
	// occurrence is untouched.
	Exception ExceptionType
	// OriginalDate is set for moved occurrences.
	OriginalDate *time.Time
}

// DateOf strips the time-of-day from t, keeping its location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateKey formats t's calendar date as a stable map key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// OnDate re-applies the time-of-day of tod onto the calendar date of day,
// in tod's location. This is how anchor times are projected onto candidate
// dates, and how a split re-anchors the child series.
func OnDate(day, tod time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), tod.Nanosecond(), tod.Location())
}
