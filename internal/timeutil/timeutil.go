// Package timeutil converts civil shift dates into exact instants in the
// single operating timezone. Deadlines are always constructed from the
// civil date plus a configured local hour; nothing here converts an
// already-resolved instant through the runtime-local zone, because that
// shifts every boundary by the start-hour offset.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the civil date format used on assignments.
const DateLayout = "2006-01-02"

// Clock supplies the current instant. Production code uses Real; tests
// inject a fixed clock to pin deadline boundaries.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed is a clock frozen at a single instant.
type Fixed struct{ T time.Time }

func (f Fixed) Now() time.Time { return f.T }

// ParseDate validates a civil date string.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid civil date %q: %w", date, err)
	}
	return t, nil
}

// AtHour resolves a civil date string and a local hour to the exact instant
// in loc. time.Date handles DST transitions on the given day.
func AtHour(date string, hour int, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc), nil
}

// CivilDate renders the instant's calendar date in loc.
func CivilDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// SameCivilDay reports whether the instant falls on the given civil date
// when viewed in loc.
func SameCivilDay(t time.Time, date string, loc *time.Location) bool {
	return CivilDate(t, loc) == date
}

// TimeToShift is the exact duration from now until the shift start instant.
// Negative once the shift has started.
func TimeToShift(now, shiftStart time.Time) time.Duration {
	return shiftStart.Sub(now)
}

// ISOWeek renders the ISO week of the instant in loc, e.g. "2026-W07".
func ISOWeek(t time.Time, loc *time.Location) string {
	y, w := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// WeekBounds returns the [Monday 00:00, next Monday 00:00) civil bounds of
// the week containing t, in loc.
func WeekBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	weekday := int(lt.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week it ends
	}
	monday := time.Date(lt.Year(), lt.Month(), lt.Day()-(weekday-1), 0, 0, 0, 0, loc)
	return monday, monday.AddDate(0, 0, 7)
}

// ActiveCycleLock returns the preference-lock cutover of the currently
// active scheduling cycle: the most recent occurrence of the configured
// weekday/hour/minute at or before now, in loc. Evaluating against the
// next upcoming cutover instead is the bug this function exists to avoid;
// it would leave preferences editable immediately after the lock.
func ActiveCycleLock(now time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) time.Time {
	lt := now.In(loc)
	daysBack := int(lt.Weekday()) - int(weekday)
	if daysBack < 0 {
		daysBack += 7
	}
	lock := time.Date(lt.Year(), lt.Month(), lt.Day()-daysBack, hour, minute, 0, 0, loc)
	if lock.After(now) {
		lock = lock.AddDate(0, 0, -7)
	}
	return lock
}
