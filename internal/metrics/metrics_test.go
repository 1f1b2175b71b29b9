package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"dealbot/internal/eventbus"
	"dealbot/internal/recovery"
)

func TestObserveEvents(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry(), nil)
	for _, e := range []eventbus.Event{
		{Type: eventbus.DealPosted, DealID: "1"},
		{Type: eventbus.DealPosted, DealID: "2"},
		{Type: eventbus.ReminderSent, DealID: "1"},
		{Type: eventbus.ReminderFailed, DealID: "1"},
		{Type: eventbus.ReminderStopped, DealID: "1", Data: "stopped"},
		{Type: eventbus.RecoveryFinished, Data: recovery.Result{Restored: 3, Skipped: 1, Took: time.Second}},
	} {
		m.Observe(e)
	}

	if got := testutil.ToFloat64(m.DealsPosted); got != 2 {
		t.Fatalf("posted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Reminders.WithLabelValues("sent")); got != 1 {
		t.Fatalf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Reminders.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReminderExits.WithLabelValues("stopped")); got != 1 {
		t.Fatalf("exits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Recovered.WithLabelValues("restored")); got != 3 {
		t.Fatalf("restored = %v, want 3", got)
	}
}

func TestActiveGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	n := 4
	New(reg, func() int { return n })
	if got := testutil.CollectAndCount(reg, "dealbot_reminder_loops_active"); got != 1 {
		t.Fatalf("gauge series = %d, want 1", got)
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	m := New(prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.DealsFilled) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("filled counter never incremented")
		}
		bus.Publish(eventbus.Event{Type: eventbus.DealFilled, DealID: "9"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Observe(eventbus.Event{Type: eventbus.DealPosted})
	m.IncrementWebhook("accepted")
}
