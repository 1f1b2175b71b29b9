package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready() = %v, %v, want false, nil", sent, err)
	}
	if d := WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval() = %v, want 0", d)
	}
}

func TestWatchdogStopsOnCancel(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watchdog(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Watchdog did not return after cancel")
	}
}
