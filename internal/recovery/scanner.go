// Package recovery rebuilds the running reminder set after a restart by
// diffing the persisted "posted" and "filled" record sets against live CRM state.
package recovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dealbot/internal/crm/hubspot"
	"dealbot/internal/eventbus"
	"dealbot/internal/storage"
	logx "dealbot/pkg/logx"
)

type Lister interface {
	ListIDs(ctx context.Context, set string) ([]string, error)
}

type Fetcher interface {
	FetchRecord(ctx context.Context, id string) (hubspot.Record, error)
}

type Starter interface {
	IsActive(id string) bool
	Start(id, owner string) bool
}

// Result aggregates one scan.
type Result struct {
	Tracked    int
	Terminal   int
	Candidates int
	Restored   int
	Skipped    int
	Errored    int
	Took       time.Duration
}

type Config struct {
	// TrackedSet and TerminalSet default to storage.SetDeals and storage.SetFilled.
	TrackedSet  string
	TerminalSet string
	// Concurrency bounds parallel CRM fetches. Defaults to 4.
	Concurrency int
}

type Scanner struct {
	cfg   Config
	store Lister
	crm   Fetcher
	rem   Starter
	log   logx.Logger
	bus   eventbus.Bus
}

func NewScanner(cfg Config, store Lister, crm Fetcher, rem Starter, log logx.Logger, bus eventbus.Bus) *Scanner {
	if cfg.TrackedSet == "" {
		cfg.TrackedSet = storage.SetDeals
	}
	if cfg.TerminalSet == "" {
		cfg.TerminalSet = storage.SetFilled
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Scanner{cfg: cfg, store: store, crm: crm, rem: rem, log: log, bus: bus}
}

// Candidates returns tracked ids that never reached the terminal set, in tracked order.
func Candidates(tracked, terminal []string) []string {
	done := make(map[string]struct{}, len(terminal))
	for _, id := range terminal {
		done[id] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, id := range tracked {
		if _, ok := done[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Scan re-arms a reminder for every candidate that still qualifies. Only a
// failure to list the record sets is returned; per-deal failures are counted.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	tracked, err := s.store.ListIDs(ctx, s.cfg.TrackedSet)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", s.cfg.TrackedSet, err)
	}
	terminal, err := s.store.ListIDs(ctx, s.cfg.TerminalSet)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", s.cfg.TerminalSet, err)
	}
	cands := Candidates(tracked, terminal)
	res.Tracked, res.Terminal, res.Candidates = len(tracked), len(terminal), len(cands)

	var restored, skipped, errored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range cands {
		id := id
		g.Go(func() error {
			switch s.consider(gctx, id) {
			case outcomeRestored:
				restored.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			default:
				errored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Restored = int(restored.Load())
	res.Skipped = int(skipped.Load())
	res.Errored = int(errored.Load())
	res.Took = time.Since(start)

	s.log.Info("recovery scan finished",
		logx.Int("tracked", res.Tracked),
		logx.Int("terminal", res.Terminal),
		logx.Int("candidates", res.Candidates),
		logx.Int("restored", res.Restored),
		logx.Int("skipped", res.Skipped),
		logx.Int("errored", res.Errored),
		logx.Duration("took", res.Took),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.RecoveryFinished, Data: res})
	return res, nil
}

type outcome int

const (
	outcomeRestored outcome = iota
	outcomeSkipped
	outcomeErrored
)

func (s *Scanner) consider(ctx context.Context, id string) outcome {
	log := s.log.With(logx.DealID(id))
	if s.rem.IsActive(id) {
		log.Debug("recovery skip: already running")
		return outcomeSkipped
	}
	rec, err := s.crm.FetchRecord(ctx, id)
	if err != nil {
		log.Warn("recovery fetch failed", logx.Err(err))
		return outcomeErrored
	}
	switch {
	case !rec.Gating:
		log.Debug("recovery skip: gating flag off")
		return outcomeSkipped
	case rec.TerminalSet():
		log.Debug("recovery skip: terminal field set")
		return outcomeSkipped
	case !rec.HasOwner():
		log.Debug("recovery skip: no owner")
		return outcomeSkipped
	}
	if !s.rem.Start(id, rec.Owner) {
		// Lost a race with a live event that armed it first.
		return outcomeSkipped
	}
	log.Info("reminder restored", logx.String("owner", rec.Owner))
	return outcomeRestored
}
