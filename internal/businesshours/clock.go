// Package businesshours does calendar math over a fixed weekday working window.
package businesshours

import (
	"fmt"
	"strings"
	"time"
)

// Clock describes a working window [StartHour, EndHour) on Monday..Friday in
// one timezone. The zero value is not usable; build it with New.
type Clock struct {
	startHour int
	endHour   int
	loc       *time.Location
}

// New validates the window and loads the timezone. An empty tz means UTC.
func New(startHour, endHour int, tz string) (Clock, error) {
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return Clock{}, fmt.Errorf("invalid business window %02d:00-%02d:00", startHour, endHour)
	}
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Clock{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	return Clock{startHour: startHour, endHour: endHour, loc: loc}, nil
}

func (c Clock) Location() *time.Location { return c.loc }

// Advance returns the instant at which `hours` business hours have elapsed
// after start. Zero or negative durations return start unchanged.
func (c Clock) Advance(start time.Time, hours float64) time.Time {
	remaining := time.Duration(hours * float64(time.Hour))
	if remaining <= 0 {
		return start
	}

	cur := start.In(c.loc)
	for remaining > 0 {
		switch {
		case cur.Weekday() == time.Saturday:
			cur = c.windowStart(cur, 2)
		case cur.Weekday() == time.Sunday:
			cur = c.windowStart(cur, 1)
		case cur.Before(c.windowStart(cur, 0)):
			cur = c.windowStart(cur, 0)
		case !cur.Before(c.windowEnd(cur)):
			cur = c.windowStart(cur, 1)
		default:
			avail := c.windowEnd(cur).Sub(cur)
			if remaining <= avail {
				cur = cur.Add(remaining)
				remaining = 0
			} else {
				cur = cur.Add(avail)
				remaining -= avail
			}
		}
	}
	return cur.In(start.Location())
}

// Delay is Advance(now, hours) - now.
func (c Clock) Delay(now time.Time, hours float64) time.Duration {
	return c.Advance(now, hours).Sub(now)
}

// InWindow reports whether t falls inside a working window.
func (c Clock) InWindow(t time.Time) bool {
	t = t.In(c.loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !t.Before(c.windowStart(t, 0)) && t.Before(c.windowEnd(t))
}

func (c Clock) windowStart(t time.Time, addDays int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+addDays, c.startHour, 0, 0, 0, c.loc)
}

func (c Clock) windowEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, c.endHour, 0, 0, 0, c.loc)
}
