package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	failN   int
	sent    []string
	edited  []string
	nextRef int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return kit.MessageRef{}, errors.New("429 too many requests")
	}
	f.nextRef++
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextRef}, nil
}

func (f *fakeSender) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, text)
	return nil
}

func (f *fakeSender) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.edited)
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestSendRetries(t *testing.T) {
	t.Parallel()
	f := &fakeSender{failN: 2}
	s := New(fastConfig(), f, logx.Nop())
	ref, err := s.Send(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: -100}, Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.ChatID != -100 || ref.MessageID != 1 {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestSendGivesUp(t *testing.T) {
	t.Parallel()
	f := &fakeSender{failN: 10}
	s := New(fastConfig(), f, logx.Nop())
	if _, err := s.Send(context.Background(), kit.Notification{Text: "hi"}); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.failN != 7 {
		t.Fatalf("attempts = %d, want 3", 10-f.failN)
	}
}

func TestNotifyAndEditDrainOnStop(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	s := New(fastConfig(), f, logx.Nop())
	if err := s.Notify(context.Background(), kit.Notification{Text: "early"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), kit.Notification{Text: "n"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Edit(context.Background(), kit.MessageRef{MessageID: 1}, kit.Notification{Text: "e"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if sent, edited := f.counts(); sent != 5 || edited != 1 {
		t.Fatalf("sent/edited = %d/%d, want 5/1", sent, edited)
	}
	if err := s.Notify(context.Background(), kit.Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt, lo := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 8: time.Second} {
		d := retryDelay(cfg, attempt)
		if d < lo || d > lo+lo/5 {
			t.Fatalf("retryDelay(%d) = %v, want in [%v, %v]", attempt, d, lo, lo+lo/5)
		}
	}
}
