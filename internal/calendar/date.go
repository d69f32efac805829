// Package calendar provides trading-calendar awareness: a plain calendar
// date value type, a versioned holiday set, and trading-day arithmetic over
// a fixed Saturday/Sunday weekend pattern.
package calendar

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// dateLayout is the canonical on-disk and on-wire date format.
const dateLayout = "2006-01-02"

// Date is a Gregorian calendar date with no time component. The zero value
// is not a valid date; dates compare with == and the ordering methods.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO 8601 date string ("2006-01-02").
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// String returns the date in ISO 8601 form.
func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// Compact returns the date as YYYYMMDD, the form used in release keys.
func (d Date) Compact() string {
	return d.Time().Format("20060102")
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.Time().After(other.Time())
}

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// IsZero reports whether d is the zero value.
func (d Date) IsZero() bool {
	return d == Date{}
}

// UnmarshalYAML decodes a Date from an ISO 8601 scalar node.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML encodes a Date as an ISO 8601 scalar.
func (d Date) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
