/*
Package core provides the value types and error taxonomy shared by the
prescribing aggregation engine.

PURPOSE:
  Prescribing data is published monthly, so every date the engine deals
  with is a calendar month. Month is the single date abstraction used by
  the matrix snapshot (column keys), the spending queries (date filters)
  and the concession reconciliation (concession and prescribing months).

KEY CONCEPTS IN THIS FILE (month.go):
  - Month: the first day of a calendar month, always UTC
  - MonthRange: an inclusive [Start, End] window of months

WIRE FORMAT:
  Months are rendered and parsed as ISO dates pinned to the first of the
  month ("2014-11-01"). This is also the key format of the snapshot's
  date-offset table.

SEE ALSO:
  - errors.go: Error taxonomy
  - money.go: Currency conversion and output rounding
*/
package core

import (
	"fmt"
	"time"
)

// MonthLayout is the ISO layout used for month keys.
const MonthLayout = "2006-01-02"

// =============================================================================
// MONTH
// =============================================================================

// Month is a calendar month, stored as midnight UTC on its first day.
type Month struct {
	Time time.Time
}

// NewMonth returns the month for the given year and month.
func NewMonth(year int, month time.Month) Month {
	return Month{Time: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// MonthOf truncates t to its month.
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return NewMonth(t.Year(), t.Month())
}

// ParseMonth parses "YYYY-MM-DD" (day must be 01) or "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	if t, err := time.Parse(MonthLayout, s); err == nil {
		if t.Day() != 1 {
			return Month{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%s is not the first day of a month", s)}
		}
		return MonthOf(t), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return MonthOf(t), nil
	}
	return Month{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%s is not a valid date", s)}
}

// MustParseMonth is ParseMonth for literals in tests and fixtures.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Month) Year() int           { return m.Time.Year() }
func (m Month) Month() time.Month   { return m.Time.Month() }
func (m Month) IsZero() bool        { return m.Time.IsZero() }
func (m Month) Before(o Month) bool { return m.Time.Before(o.Time) }
func (m Month) After(o Month) bool  { return m.Time.After(o.Time) }
func (m Month) Equal(o Month) bool  { return m.Time.Equal(o.Time) }

func (m Month) BeforeOrEqual(o Month) bool { return !m.After(o) }
func (m Month) AfterOrEqual(o Month) bool  { return !m.Before(o) }

// AddMonths moves n months forward (or back when n is negative).
func (m Month) AddMonths(n int) Month {
	return Month{Time: m.Time.AddDate(0, n, 0)}
}

// MonthsBetween returns the number of months from a to b.
func MonthsBetween(a, b Month) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Time.Format(MonthLayout)
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MaxMonth returns the later of two months.
func MaxMonth(a, b Month) Month {
	if a.After(b) {
		return a
	}
	return b
}

// =============================================================================
// MONTH RANGE
// =============================================================================

// MonthRange is an inclusive window of months.
type MonthRange struct {
	Start Month
	End   Month
}

// LastMonths returns the n-month window ending at end.
func LastMonths(end Month, n int) MonthRange {
	return MonthRange{Start: end.AddMonths(-(n - 1)), End: end}
}

// Validate rejects ranges that end before they start.
func (r MonthRange) Validate() error {
	if r.End.Before(r.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if m is within [Start, End].
func (r MonthRange) Contains(m Month) bool {
	return m.AfterOrEqual(r.Start) && m.BeforeOrEqual(r.End)
}

// Months returns every month in the range, oldest first.
func (r MonthRange) Months() []Month {
	var months []Month
	for current := r.Start; current.BeforeOrEqual(r.End); current = current.AddMonths(1) {
		months = append(months, current)
	}
	return months
}

func (r MonthRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
