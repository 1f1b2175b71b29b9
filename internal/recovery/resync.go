package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "dealbot/pkg/logx"
)

// Resyncer re-runs the scanner on a cron schedule so reminders lost to a
// crashed loop get re-armed without a restart.
type Resyncer struct {
	scanner *Scanner
	log     logx.Logger
	timeout time.Duration

	mu      sync.Mutex
	c       *cron.Cron
	running bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewResyncer validates spec (5 or 6 field cron, or a descriptor like "@hourly")
// and evaluates it in loc.
func NewResyncer(spec string, loc *time.Location, scanner *Scanner, log logx.Logger) (*Resyncer, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("resync schedule required")
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resyncer{scanner: scanner, log: log, timeout: 5 * time.Minute}
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := r.c.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", spec, err)
	}
	return r, nil
}

func (r *Resyncer) run() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Warn("resync skipped: previous run still active")
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.scanner.Scan(ctx); err != nil {
		r.log.Error("resync failed", logx.Err(err))
	}
}

// Next reports the next scheduled run.
func (r *Resyncer) Next() time.Time {
	entries := r.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Resyncer) Start() {
	r.c.Start()
	r.log.Info("resync scheduled", logx.Time("next", r.Next()))
}

func (r *Resyncer) Stop(ctx context.Context) {
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}
