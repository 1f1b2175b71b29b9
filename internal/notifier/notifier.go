package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "dealbot/internal/runtime/supervisor"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// Sender is the transport subset used for delivery.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

type job struct {
	n   kit.Notification
	ref *kit.MessageRef // non-nil means edit
}

// Service is safe for concurrent use.
type Service struct {
	cfg     Config
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
	inflight  sync.WaitGroup
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		sender: sender,
		log:    log,
		// Burst = rate per second so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the async workers. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.worker(c, q)
			return nil
		})
	}
}

// Stop refuses new work, drains the queue until ctx is done, then force-stops.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.inflight.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("notifier drain incomplete", logx.Err(err))
		sup.Cancel()
	}
}

// Send delivers synchronously, honoring the rate limit and retry policy.
func (s *Service) Send(ctx context.Context, n kit.Notification) (kit.MessageRef, error) {
	var ref kit.MessageRef
	err := s.withRetry(ctx, n.Key, func(c context.Context) error {
		var err error
		ref, err = s.sender.SendText(c, n.Target, n.Text, n.Options)
		return err
	})
	return ref, err
}

// Notify queues a send. Delivery failures are logged by the worker.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	return s.enqueue(ctx, job{n: n})
}

// Edit queues an in-place edit of an earlier message.
func (s *Service) Edit(ctx context.Context, ref kit.MessageRef, n kit.Notification) error {
	return s.enqueue(ctx, job{n: n, ref: &ref})
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case q <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			err := s.withRetry(ctx, j.n.Key, func(c context.Context) error {
				if j.ref != nil {
					return s.sender.EditText(c, *j.ref, j.n.Text, j.n.Options)
				}
				_, err := s.sender.SendText(c, j.n.Target, j.n.Text, j.n.Options)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("notification dropped", logx.String("key", j.n.Key), logx.Bool("edit", j.ref != nil), logx.Err(err))
			}
		}
	}
}

func (s *Service) withRetry(ctx context.Context, key string, call func(ctx context.Context) error) error {
	attempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		lastErr = call(cctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		s.log.Debug("send attempt failed", logx.String("key", key), logx.Int("attempt", attempt), logx.Err(lastErr))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, plus up to 20% jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int63n(j + 1))
	}
	return d
}
