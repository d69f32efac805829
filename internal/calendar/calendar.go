package calendar

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoTradingDay is returned when a trading-day walk exhausts its bound
// without finding one. A gap that wide usually means the holiday list has
// not been updated.
var ErrNoTradingDay = errors.New("no trading day within walk bound")

// DefaultMaxWalk bounds PrevTradingDay/NextTradingDay searches. The longest
// real market closure gap (multi-day holiday plus adjacent weekends) fits
// well inside it.
const DefaultMaxWalk = 9

// HolidaySet is an immutable set of market holiday dates, loaded once at
// process start from a hand-maintained YAML list.
type HolidaySet struct {
	version string
	dates   map[Date]struct{}
}

// holidayFile is the on-disk YAML shape of the holiday list.
type holidayFile struct {
	Version  string `yaml:"version"`
	Holidays []Date `yaml:"holidays"`
}

// NewHolidaySet builds a set from explicit dates. Used by tests and by the
// holiday refresh path before writing the file out.
func NewHolidaySet(version string, dates []Date) *HolidaySet {
	hs := &HolidaySet{
		version: version,
		dates:   make(map[Date]struct{}, len(dates)),
	}
	for _, d := range dates {
		hs.dates[d] = struct{}{}
	}
	return hs
}

// LoadHolidays reads the versioned holiday list at path.
func LoadHolidays(path string) (*HolidaySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading holiday list: %w", err)
	}

	var hf holidayFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parsing holiday list %s: %w", path, err)
	}

	return NewHolidaySet(hf.Version, hf.Holidays), nil
}

// WriteHolidays writes a versioned holiday list to path in the same YAML
// shape LoadHolidays reads.
func WriteHolidays(path, version string, dates []Date) error {
	data, err := yaml.Marshal(holidayFile{Version: version, Holidays: dates})
	if err != nil {
		return fmt.Errorf("encoding holiday list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing holiday list: %w", err)
	}
	return nil
}

// Version returns the list's version string (e.g. "2026-01").
func (h *HolidaySet) Version() string { return h.version }

// Contains reports whether d is a configured holiday.
func (h *HolidaySet) Contains(d Date) bool {
	_, ok := h.dates[d]
	return ok
}

// Len returns the number of holidays in the set.
func (h *HolidaySet) Len() int { return len(h.dates) }

// Calendar answers trading-day questions for a market with a fixed
// Saturday/Sunday weekend and an explicit holiday list.
type Calendar struct {
	holidays *HolidaySet
	maxWalk  int
}

// New creates a Calendar. maxWalk bounds the day-by-day searches; values
// below 1 fall back to DefaultMaxWalk.
func New(holidays *HolidaySet, maxWalk int) *Calendar {
	if maxWalk < 1 {
		maxWalk = DefaultMaxWalk
	}
	return &Calendar{holidays: holidays, maxWalk: maxWalk}
}

// IsTradingDay reports whether d is a trading day: a weekday that is not a
// configured holiday.
func (c *Calendar) IsTradingDay(d Date) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays.Contains(d)
}

// PrevTradingDay returns the latest trading day strictly before d, walking
// at most maxWalk days back. Returns ErrNoTradingDay if the bound is
// exhausted.
func (c *Calendar) PrevTradingDay(d Date) (Date, error) {
	cur := d
	for i := 0; i < c.maxWalk; i++ {
		cur = cur.AddDays(-1)
		if c.IsTradingDay(cur) {
			return cur, nil
		}
	}
	return Date{}, fmt.Errorf("walking back from %s: %w", d, ErrNoTradingDay)
}

// NextTradingDay returns the earliest trading day strictly after d, walking
// at most maxWalk days forward. Returns ErrNoTradingDay if the bound is
// exhausted.
func (c *Calendar) NextTradingDay(d Date) (Date, error) {
	cur := d
	for i := 0; i < c.maxWalk; i++ {
		cur = cur.AddDays(1)
		if c.IsTradingDay(cur) {
			return cur, nil
		}
	}
	return Date{}, fmt.Errorf("walking forward from %s: %w", d, ErrNoTradingDay)
}
