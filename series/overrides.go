package series

import (
	"time"

	"github.com/samber/mo"
)

// Overrides is a tagged partial update. Every field distinguishes "leave
// unchanged" (absent) from "set to this value" (present); Description
// additionally distinguishes "clear" via a nested option, because callers
// must be able to say "explicitly no description" without it collapsing
// into "inherit".
type Overrides struct {
	// Title, when present, replaces the title. An absent title always
	// means "keep the existing one".
	Title mo.Option[string]

	// Description uses two levels: absent = inherit, Some(None) =
	// explicitly cleared, Some(Some(v)) = set to v.
	Description mo.Option[mo.Option[string]]

	InstanceStart mo.Option[time.Time]
	InstanceEnd   mo.Option[time.Time]
}

// IsZero reports whether no field is overridden.
func (o Overrides) IsZero() bool {
	return o.Title.IsAbsent() && o.Description.IsAbsent() &&
		o.InstanceStart.IsAbsent() && o.InstanceEnd.IsAbsent()
}

// DescriptionValue resolves the description override against a fallback:
// the fallback when absent, "" when explicitly cleared, the value otherwise.
func (o Overrides) DescriptionValue(fallback string) string {
	inner, ok := o.Description.Get()
	if !ok {
		return fallback
	}
	return inner.OrElse("")
}

// TitlePtr returns the title override as a nullable pointer, for storing
// on an exception record.
func (o Overrides) TitlePtr() *string {
	if v, ok := o.Title.Get(); ok {
		return &v
	}
	return nil
}

// DescriptionPtr returns the description override as a nullable pointer.
// An explicit clear becomes a pointer to the empty string, which keeps it
// distinct from nil ("inherit") in the exception row.
func (o Overrides) DescriptionPtr() *string {
	inner, ok := o.Description.Get()
	if !ok {
		return nil
	}
	v := inner.OrElse("")
	return &v
}

// InstanceStartPtr returns the start override as a nullable pointer.
func (o Overrides) InstanceStartPtr() *time.Time {
	if v, ok := o.InstanceStart.Get(); ok {
		return &v
	}
	return nil
}

// InstanceEndPtr returns the end override as a nullable pointer.
func (o Overrides) InstanceEndPtr() *time.Time {
	if v, ok := o.InstanceEnd.Get(); ok {
		return &v
	}
	return nil
}
