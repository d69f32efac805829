package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
	"github.com/afanty2021/qlib-sub000/internal/state"
)

// Resolver decides whether a check should run at all right now, and which
// calendar date's release is the current target. The two questions are
// deliberately separate: the first is cheap wall-clock gating, the second
// is calendar arithmetic.
type Resolver struct {
	cal        *calendar.Calendar
	store      *state.Store
	startOfDay int // check window start, minutes since midnight
	endOfDay   int // check window end, minutes since midnight (exclusive)
	log        *slog.Logger
}

// NewResolver creates a Resolver with a daily check window given as local
// wall-clock "HH:MM" strings.
func NewResolver(cal *calendar.Calendar, store *state.Store, windowStart, windowEnd string, log *slog.Logger) (*Resolver, error) {
	start, err := parseClock(windowStart)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(windowEnd)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cal: cal, store: store, startOfDay: start, endOfDay: end, log: log}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing window time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ShouldCheck reports whether the agent should look for a release at the
// given instant. Outside the daily window the answer is always no. Inside
// it, a trading day always checks; a non-trading day checks only when a
// trading day has already elapsed since the last confirmed sync, meaning
// the release may have been delayed into a holiday block.
func (r *Resolver) ShouldCheck(now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()
	if minutes < r.startOfDay || minutes >= r.endOfDay {
		return false
	}

	today := calendar.DateOf(now)
	if r.cal.IsTradingDay(today) {
		return true
	}

	last, ok := r.store.Read()
	if !ok {
		// Nothing has ever been confirmed synced; a fresh install should
		// keep trying even on non-trading days.
		return true
	}

	next, err := r.cal.NextTradingDay(last)
	if err != nil {
		r.log.Warn("cannot find a trading day after last sync; holiday list may be outdated",
			"last_sync", last.String(), "error", err)
		return false
	}
	return !next.After(today)
}

// Resolve returns the target release date for the given instant: today when
// today is a trading day, otherwise the most recent trading day before it.
func (r *Resolver) Resolve(now time.Time) (calendar.Date, error) {
	today := calendar.DateOf(now)
	if r.cal.IsTradingDay(today) {
		return today, nil
	}
	target, err := r.cal.PrevTradingDay(today)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("resolving target date for %s: %w", today, err)
	}
	return target, nil
}
