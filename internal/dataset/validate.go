package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
)

// Well-known substructures every dataset release carries.
const (
	calendarIndex   = "calendars/day.txt"
	instrumentIndex = "instruments/all.txt"
)

// validate checks the extracted tree's structure and returns the newest
// date in the calendar index. A dataset whose newest entry merely trails
// the target date is acceptable (publication lag is normal) up to the
// configured lag bound; structural absence is always fatal.
func (u *Updater) validate(target calendar.Date) (calendar.Date, error) {
	if _, err := os.Stat(filepath.Join(u.liveDir, instrumentIndex)); err != nil {
		return calendar.Date{}, fmt.Errorf("%w: missing %s", ErrInvalid, instrumentIndex)
	}

	maxDate, err := maxCalendarDate(filepath.Join(u.liveDir, calendarIndex))
	if err != nil {
		return calendar.Date{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if !u.policy.SanityBound.IsZero() && maxDate.Before(u.policy.SanityBound) {
		return calendar.Date{}, fmt.Errorf("%w: calendar index ends at %s, before sanity bound %s",
			ErrInvalid, maxDate, u.policy.SanityBound)
	}
	if u.policy.MaxLagDays > 0 && maxDate.Before(target.AddDays(-u.policy.MaxLagDays)) {
		return calendar.Date{}, fmt.Errorf("%w: calendar index ends at %s, more than %d days behind target %s",
			ErrInvalid, maxDate, u.policy.MaxLagDays, target)
	}

	if maxDate.Before(target) {
		u.log.Info("dataset trails target date", "max_date", maxDate.String(), "target", target.String())
	}
	return maxDate, nil
}

// maxCalendarDate scans the calendar index for its newest date. The index
// is sorted in practice, but scanning every line costs little and tolerates
// the occasional unsorted release.
func maxCalendarDate(path string) (calendar.Date, error) {
	f, err := os.Open(path)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("missing %s", calendarIndex)
	}
	defer f.Close()

	var max calendar.Date
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		d, err := calendar.ParseDate(line)
		if err != nil {
			return calendar.Date{}, fmt.Errorf("bad calendar entry %q", line)
		}
		if max.IsZero() || d.After(max) {
			max = d
		}
	}
	if err := sc.Err(); err != nil {
		return calendar.Date{}, fmt.Errorf("reading %s: %w", calendarIndex, err)
	}
	if max.IsZero() {
		return calendar.Date{}, fmt.Errorf("empty calendar index")
	}
	return max, nil
}
