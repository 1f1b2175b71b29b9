package businesshours

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func mustClock(t *testing.T) Clock {
	t.Helper()
	c, err := New(9, 18, "Europe/Berlin")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func at(c Clock, day, hour, min int) time.Time {
	return time.Date(2024, time.March, day, hour, min, 0, 0, c.Location())
}

// businessTimeBetween sums the working-window overlap of [from, to).
func businessTimeBetween(c Clock, from, to time.Time) time.Duration {
	var total time.Duration
	from = from.In(c.loc)
	to = to.In(c.loc)
	for day := c.windowStart(from, -1); day.Before(to); day = c.windowStart(day, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		lo, hi := day, c.windowEnd(day)
		if lo.Before(from) {
			lo = from
		}
		if hi.After(to) {
			hi = to
		}
		if hi.After(lo) {
			total += hi.Sub(lo)
		}
	}
	return total
}

func TestNewRejectsBadWindow(t *testing.T) {
	t.Parallel()
	for _, w := range [][2]int{{18, 9}, {9, 9}, {-1, 10}, {9, 25}} {
		if _, err := New(w[0], w[1], "UTC"); err == nil {
			t.Fatalf("New(%d, %d) accepted", w[0], w[1])
		}
	}
	if _, err := New(9, 18, "Not/AZone"); err == nil {
		t.Fatal("New accepted unknown timezone")
	}
}

func TestAdvanceZeroAndNegative(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	for _, start := range []time.Time{at(c, 5, 10, 0), at(c, 9, 3, 17), time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)} {
		if got := c.Advance(start, 0); !got.Equal(start) {
			t.Fatalf("Advance(%v, 0) = %v, want start", start, got)
		}
		if got := c.Advance(start, -2); !got.Equal(start) {
			t.Fatalf("Advance(%v, -2) = %v, want start", start, got)
		}
	}
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	tests := []struct {
		name  string
		start time.Time
		hours float64
		want  time.Time
	}{
		{name: "inside one day", start: at(c, 5, 10, 0), hours: 3, want: at(c, 5, 13, 0)},
		{name: "fractional", start: at(c, 5, 10, 0), hours: 0.5, want: at(c, 5, 10, 30)},
		{name: "ends on window close", start: at(c, 5, 10, 0), hours: 8, want: at(c, 5, 18, 0)},
		{name: "rolls to next day", start: at(c, 5, 16, 0), hours: 8, want: at(c, 6, 15, 0)},
		{name: "before window", start: at(c, 4, 7, 0), hours: 1, want: at(c, 4, 10, 0)},
		{name: "after window", start: at(c, 5, 20, 0), hours: 2, want: at(c, 6, 11, 0)},
		{name: "friday over weekend", start: at(c, 8, 17, 0), hours: 8, want: at(c, 11, 16, 0)},
		{name: "saturday", start: at(c, 9, 12, 0), hours: 2, want: at(c, 11, 11, 0)},
		{name: "sunday night", start: at(c, 10, 23, 0), hours: 9, want: at(c, 11, 18, 0)},
		{name: "multi day", start: at(c, 4, 9, 0), hours: 45, want: at(c, 8, 18, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Advance(tt.start, tt.hours)
			if !got.Equal(tt.want) {
				t.Fatalf("Advance(%v, %v) = %v, want %v", tt.start, tt.hours, got.In(c.loc), tt.want)
			}
		})
	}
}

func TestAdvanceInsideDayIsPlainAdd(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	start := at(c, 6, 9, 15)
	for _, h := range []float64{0.25, 1, 2.5, 8} {
		d := time.Duration(h * float64(time.Hour))
		if got := c.Advance(start, h); !got.Equal(start.Add(d)) {
			t.Fatalf("Advance(%v) = %v, want %v", h, got, start.Add(d))
		}
	}
}

func TestAdvanceFromNonWorkingDay(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	monday := at(c, 11, 9, 0)
	for _, start := range []time.Time{at(c, 9, 0, 0), at(c, 9, 9, 30), at(c, 9, 23, 59), at(c, 10, 8, 0), at(c, 10, 19, 0)} {
		for _, h := range []float64{0.1, 1, 8, 8.5, 20} {
			got := c.Advance(start, h)
			if got.Before(monday) {
				t.Fatalf("Advance(%v, %v) = %v, before next window start %v", start, h, got, monday)
			}
			want := time.Duration(h * float64(time.Hour))
			if sum := businessTimeBetween(c, start, got); sum != want {
				t.Fatalf("Advance(%v, %v): business time = %v, want %v", start, h, sum, want)
			}
		}
	}
}

func TestAdvanceKeepsCallerLocation(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC) // 10:00 Berlin
	got := c.Advance(start, 1)
	if got.Location() != time.UTC {
		t.Fatalf("Location = %v, want UTC", got.Location())
	}
	if want := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Advance = %v, want %v", got, want)
	}
}

func TestInWindowAndDelay(t *testing.T) {
	t.Parallel()
	c := mustClock(t)
	if !c.InWindow(at(c, 5, 9, 0)) {
		t.Fatal("09:00 Tuesday should be in window")
	}
	if c.InWindow(at(c, 5, 18, 0)) {
		t.Fatal("18:00 is the exclusive end")
	}
	if c.InWindow(at(c, 9, 12, 0)) {
		t.Fatal("saturday should not be in window")
	}
	if d := c.Delay(at(c, 8, 17, 0), 8); d != 71*time.Hour {
		t.Fatalf("Delay = %v, want %v", d, 71*time.Hour)
	}
}
