package series

import (
	"fmt"
	"time"
)

// RecurrenceType is the repetition frequency of a series.
type RecurrenceType string

const (
	// RecurrenceNone marks a single, non-recurring instance. The engine
	// treats it as a terminal case everywhere: expansion yields at most
	// the anchor date and splitting is rejected.
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
	// RecurrenceWeekdays repeats every Monday through Friday, never on
	// Saturday or Sunday.
	RecurrenceWeekdays RecurrenceType = "weekdays"
)

// Valid reports whether t is a known recurrence type.
func (t RecurrenceType) Valid() bool {
	switch t {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly,
		RecurrenceMonthly, RecurrenceYearly, RecurrenceWeekdays:
		return true
	}
	return false
}

// Recurrence describes how a series repeats.
type Recurrence struct {
	Type RecurrenceType

	// Rule is an optional raw RRULE string (without the "RRULE:" prefix).
	// When set it takes precedence over Interval and Count; Type still
	// gates engine behavior (RecurrenceNone never expands).
	Rule string

	// Interval repeats every N periods of Type. Values below 1 are
	// treated as 1.
	Interval int

	// Count limits the total number of occurrences. 0 means unbounded.
	Count int

	// EndDate is the inclusive last calendar day on which an occurrence
	// may fall. nil means open-ended. Must not precede the date of the
	// first occurrence.
	EndDate *time.Time
}

// IsRecurring reports whether the recurrence actually repeats.
func (r Recurrence) IsRecurring() bool {
	return r.Type != RecurrenceNone && r.Type != ""
}

// Validate performs the structural checks that can be done without
// expanding the rule. anchor is the series' anchor start; the engine
// additionally verifies EndDate against the true first occurrence.
func (r Recurrence) Validate(anchor time.Time) error {
	if r.Type == "" {
		return fmt.Errorf("%w: recurrence type is required", ErrBadRequest)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown recurrence type %q", ErrBadRequest, r.Type)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative recurrence count", ErrBadRequest)
	}
	if r.EndDate != nil && DateOf(*r.EndDate).Before(DateOf(anchor)) {
		return fmt.Errorf("%w: recurrence end date %s precedes first occurrence %s",
			ErrBadRequest, DateKey(*r.EndDate), DateKey(anchor))
	}
	return nil
}
