package reminder

import (
	"context"
	"time"

	"dealbot/internal/eventbus"
	logx "dealbot/pkg/logx"
)

// Outcome is how a loop ended.
type Outcome int

const (
	// Stopped means the deal no longer qualifies for reminders.
	Stopped Outcome = iota + 1
	// Cancelled means the loop observed cancellation at its wait point.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Stopped:
		return "stopped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StateFetcher re-reads a deal at wake time. eligible must be true only while
// the gating flag is set and the terminal field is still empty.
type StateFetcher interface {
	Eligible(ctx context.Context, id string) (eligible bool, err error)
}

// Sender delivers one reminder for id to owner.
type Sender interface {
	SendReminder(ctx context.Context, id, owner string) error
}

// DelayFunc returns how long to wait before the next check, given the current time.
type DelayFunc func(now time.Time) time.Duration

// FixedDelay ignores the clock; used for short test cycles.
func FixedDelay(d time.Duration) DelayFunc {
	return func(time.Time) time.Duration { return d }
}

// Loop is one deal's reminder cycle: wait, re-check, remind, repeat.
type Loop struct {
	ID    string
	Owner string

	Delay DelayFunc
	Fetch StateFetcher
	Send  Sender
	Now   func() time.Time
	Log   logx.Logger
	Bus   eventbus.Bus
}

// Run blocks until the deal stops qualifying or ctx is cancelled.
//
// The wait is the only point where cancellation is observed. Fetch and send run
// on a context that ignores cancellation so an in-flight reminder completes.
func (l *Loop) Run(ctx context.Context) Outcome {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	bus := l.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	work := context.WithoutCancel(ctx)

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return Cancelled
		}
		d := l.Delay(now())
		if d < 0 {
			d = 0
		}
		l.Log.Debug("reminder sleeping", logx.Int("cycle", cycle), logx.Duration("delay", d))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return Cancelled
		case <-t.C:
		}
		if ctx.Err() != nil {
			return Cancelled
		}

		eligible, err := l.Fetch.Eligible(work, l.ID)
		switch {
		case err != nil:
			l.Log.Warn("reminder state fetch failed; reminding anyway", logx.Int("cycle", cycle), logx.Err(err))
		case !eligible:
			return Stopped
		}

		if err := l.Send.SendReminder(work, l.ID, l.Owner); err != nil {
			l.Log.Warn("reminder send failed", logx.Int("cycle", cycle), logx.Err(err))
			bus.Publish(eventbus.Event{Type: eventbus.ReminderFailed, DealID: l.ID, Data: err.Error()})
			continue
		}
		l.Log.Info("reminder sent", logx.Int("cycle", cycle), logx.String("owner", l.Owner))
		bus.Publish(eventbus.Event{Type: eventbus.ReminderSent, DealID: l.ID})
	}
}
