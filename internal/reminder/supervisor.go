package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"dealbot/internal/eventbus"
	rtsup "dealbot/internal/runtime/supervisor"
	logx "dealbot/pkg/logx"
)

// Config is shared by every loop the supervisor starts.
type Config struct {
	Delay DelayFunc
	Fetch StateFetcher
	Send  Sender
	Now   func() time.Time
	// OnStop, when set, runs after a loop has exited and been unregistered.
	OnStop func(id string, out Outcome)
}

// Info describes one running loop.
type Info struct {
	ID        string
	Owner     string
	StartedAt time.Time
}

type handle struct {
	Info
	cancel context.CancelFunc
}

// Supervisor owns at most one running reminder loop per deal id.
type Supervisor struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	sup *rtsup.Supervisor

	mu     sync.Mutex
	loops  map[string]*handle
	closed bool
}

func NewSupervisor(cfg Config, log logx.Logger, bus eventbus.Bus) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Supervisor{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		sup:   rtsup.New(context.Background(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false)),
		loops: map[string]*handle{},
	}
}

// Start arms a loop for id. It is a no-op (returning false) when a loop for id
// is already running or the supervisor is shut down.
func (s *Supervisor) Start(id, owner string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.loops[id]; ok {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	h := &handle{
		Info:   Info{ID: id, Owner: owner, StartedAt: s.cfg.Now()},
		cancel: cancel,
	}
	s.loops[id] = h
	// Spawn while holding mu so Shutdown cannot start waiting in between.
	defer s.mu.Unlock()

	log := s.log.With(logx.DealID(id))
	loop := &Loop{
		ID:    id,
		Owner: owner,
		Delay: s.cfg.Delay,
		Fetch: s.cfg.Fetch,
		Send:  s.cfg.Send,
		Now:   s.cfg.Now,
		Log:   log,
		Bus:   s.bus,
	}
	log.Info("reminder started", logx.String("owner", owner))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderStarted, DealID: id})

	s.sup.GoCtx(ctx, "reminder."+id, func(ctx context.Context) error {
		defer cancel()
		out := loop.Run(ctx)

		s.mu.Lock()
		if s.loops[id] == h {
			delete(s.loops, id)
		}
		s.mu.Unlock()
		if s.cfg.OnStop != nil {
			s.cfg.OnStop(id, out)
		}

		log.Info("reminder finished", logx.String("outcome", out.String()), logx.Duration("ran", s.cfg.Now().Sub(h.StartedAt)))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderStopped, DealID: id, Data: out.String()})
		return nil
	})
	return true
}

// Cancel signals the loop for id and unregisters it. No-op if none is running.
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	h, ok := s.loops[id]
	if ok {
		delete(s.loops, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

func (s *Supervisor) IsActive(id string) bool {
	s.mu.Lock()
	_, ok := s.loops[id]
	s.mu.Unlock()
	return ok
}

// Active lists running loops, oldest first.
func (s *Supervisor) Active() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.loops))
	for _, h := range s.loops {
		out = append(out, h.Info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Started counts loops spawned since the process began.
func (s *Supervisor) Started() uint64 { return s.sup.Counters().Started }

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// Shutdown cancels every loop, refuses new starts and waits for the loops to return.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.loops)
	s.loops = map[string]*handle{}
	s.mu.Unlock()

	s.log.Info("reminders shutting down", logx.Int("active", n))
	return s.sup.Stop(ctx)
}
