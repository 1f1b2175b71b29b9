package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dealbot/internal/compose"
	"dealbot/internal/crm/hubspot"
	"dealbot/internal/eventbus"
	"dealbot/internal/recovery"
	"dealbot/internal/reminder"
	"dealbot/internal/storage"
	"dealbot/internal/tracking"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/tgui"
)

// ErrMalformedEvent rejects events that carry no usable deal id.
var ErrMalformedEvent = errors.New("malformed event: missing deal id")

// InterestPrefix is the callback data prefix of the interest button.
const InterestPrefix = "interest:"

// CRM is the record source used by the pipeline.
type CRM interface {
	FetchRecord(ctx context.Context, id string) (hubspot.Record, error)
}

// Outbox delivers chat messages. Send is synchronous; Edit may be queued.
type Outbox interface {
	Send(ctx context.Context, n kit.Notification) (kit.MessageRef, error)
	Edit(ctx context.Context, ref kit.MessageRef, n kit.Notification) error
}

// ServiceConfig carries the pipeline settings resolved from config.
type ServiceConfig struct {
	Target kit.ChatTarget
	Fields []compose.Field
	// TerminalLabel names the terminal field in reminder text.
	TerminalLabel string
	Mentions      map[string]string
	Delay         reminder.DelayFunc
	Recovery      recovery.Config
	Now           func() time.Time
}

type post struct {
	ref  kit.MessageRef
	deal hubspot.Deal
}

// Service is the deal orchestrator. It owns the posted set, the interest
// tracker and the reminder registry; construct one per process.
type Service struct {
	cfg   ServiceConfig
	crm   CRM
	out   Outbox
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus

	posted    *tracking.Gate
	filled    *tracking.Gate
	interest  *tracking.Interest
	reminders *reminder.Supervisor
	scanner   *recovery.Scanner

	mu    sync.Mutex
	posts map[string]post
	// last record fetched by a reminder loop, per deal
	seen map[string]hubspot.Record
}

// NewService wires the orchestrator. store may be nil (persistence disabled).
func NewService(cfg ServiceConfig, crm CRM, out Outbox, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Delay == nil {
		cfg.Delay = reminder.FixedDelay(8 * time.Hour)
	}
	if cfg.TerminalLabel == "" {
		cfg.TerminalLabel = "location"
	}
	s := &Service{
		cfg:      cfg,
		crm:      crm,
		out:      out,
		store:    store,
		log:      log,
		bus:      bus,
		posted:   tracking.NewGate(),
		filled:   tracking.NewGate(),
		interest: tracking.NewInterest(),
		posts:    map[string]post{},
		seen:     map[string]hubspot.Record{},
	}
	s.reminders = reminder.NewSupervisor(reminder.Config{
		Delay:  cfg.Delay,
		Fetch:  s,
		Send:   s,
		Now:    cfg.Now,
		OnStop: s.forget,
	}, log.With(logx.String("comp", "reminder")), bus)
	if store != nil {
		s.scanner = recovery.NewScanner(cfg.Recovery, store, crm, s.reminders, log.With(logx.String("comp", "recovery")), bus)
	}
	return s
}

// Reminders exposes the loop registry for operator commands and metrics.
func (s *Service) Reminders() *reminder.Supervisor { return s.reminders }

// Scanner returns nil when persistence is disabled.
func (s *Service) Scanner() *recovery.Scanner { return s.scanner }

// OnObjectEvent handles one CRM deal notification.
func (s *Service) OnObjectEvent(ctx context.Context, dealID string) error {
	id := strings.TrimSpace(dealID)
	if id == "" {
		return ErrMalformedEvent
	}
	log := s.log.With(logx.DealID(id))

	rec, err := s.crm.FetchRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch deal %s: %w", id, err)
	}
	if !rec.Gating {
		log.Debug("deal not gated in; ignoring")
		return nil
	}
	if rec.TerminalSet() {
		if s.reminders.Cancel(id) {
			log.Info("reminder cancelled; terminal field set")
		}
		s.markFilled(ctx, id)
		return nil
	}

	if s.posted.Claim(id) {
		// The post outlives the webhook request that triggered it.
		if err := s.postDeal(context.WithoutCancel(ctx), rec, log); err != nil {
			s.posted.Release(id)
			return fmt.Errorf("post deal %s: %w", id, err)
		}
	} else {
		log.Debug("deal already posted")
	}
	if !rec.HasOwner() {
		log.Info("deal has no owner; no reminder")
		return nil
	}
	if s.reminders.Start(id, rec.Owner) {
		log.Info("reminder armed", logx.String("owner", rec.Owner))
	}
	return nil
}

// postDeal sends the initial post. Only a delivered post is recorded in the
// deals set, so a failed one is retried on the next event or after restart.
func (s *Service) postDeal(ctx context.Context, rec hubspot.Record, log logx.Logger) error {
	text := compose.Post(rec.Deal, s.cfg.Fields, nil)
	ref, err := s.out.Send(ctx, kit.Notification{
		Target:  s.cfg.Target,
		Text:    text,
		Options: s.postOptions(rec.ID),
		Key:     "post:" + rec.ID,
	})
	if err != nil {
		log.Warn("deal post failed", logx.Err(err))
		return err
	}
	s.mu.Lock()
	s.posts[rec.ID] = post{ref: ref, deal: rec.Deal}
	s.mu.Unlock()
	log.Info("deal posted", logx.Int("message_id", ref.MessageID))
	s.bus.Publish(eventbus.Event{Type: eventbus.DealPosted, Time: s.cfg.Now(), DealID: rec.ID})
	s.appendRecord(ctx, storage.SetDeals, rec.ID, map[string]string{
		"owner":      rec.Owner,
		"message_id": fmt.Sprint(ref.MessageID),
	})
	return nil
}

func (s *Service) postOptions(id string) *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	data, err := tgui.CallbackData(strings.TrimSuffix(InterestPrefix, ":"), id)
	if err != nil {
		s.log.Warn("interest button omitted", logx.DealID(id), logx.Err(err))
		return opt
	}
	opt.Buttons = [][]kit.Button{{{Text: "🙋 Interested", Data: data}}}
	return opt
}

// OnInterestClick records a responder and refreshes the post's count line.
func (s *Service) OnInterestClick(ctx context.Context, dealID, responder string) (int, error) {
	id := strings.TrimSpace(dealID)
	who := strings.TrimSpace(responder)
	if id == "" || who == "" {
		return 0, ErrMalformedEvent
	}
	first, count := s.interest.Add(id, who)
	if !first {
		return count, nil
	}
	log := s.log.With(logx.DealID(id))
	log.Info("interest added", logx.String("responder", who), logx.Int("count", count))
	s.bus.Publish(eventbus.Event{Type: eventbus.InterestAdded, Time: s.cfg.Now(), DealID: id, Data: who})
	s.appendRecord(ctx, storage.SetInterest, id, map[string]string{"responder": who})

	s.mu.Lock()
	p, ok := s.posts[id]
	s.mu.Unlock()
	if ok {
		text := compose.Post(p.deal, s.cfg.Fields, s.interest.List(id))
		err := s.out.Edit(ctx, p.ref, kit.Notification{Text: text, Options: s.postOptions(id), Key: "interest:" + id})
		if err != nil {
			log.Warn("interest edit not queued", logx.Err(err))
		}
	}
	return count, nil
}

// Eligible re-checks a deal at reminder wake time. A terminal deal is
// recorded in the filled set as a side effect.
func (s *Service) Eligible(ctx context.Context, id string) (bool, error) {
	rec, err := s.crm.FetchRecord(ctx, id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.seen[id] = rec
	s.mu.Unlock()
	if rec.TerminalSet() {
		s.markFilled(ctx, id)
	}
	return rec.Eligible(), nil
}

// SendReminder posts the nudge for one deal using the record seen at wake
// time, or the posted deal when that fetch failed.
func (s *Service) SendReminder(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	rec, ok := s.seen[id]
	p, posted := s.posts[id]
	s.mu.Unlock()
	if !ok {
		rec = hubspot.Record{ID: id}
		if posted {
			rec.Title = strings.TrimSpace(p.deal.Prop("dealname"))
		}
	}
	if rec.Owner == "" {
		rec.Owner = owner
	}
	text := compose.Reminder(rec, s.cfg.TerminalLabel, compose.Mention(s.cfg.Mentions, rec.Owner))
	_, err := s.out.Send(ctx, kit.Notification{
		Target:  s.cfg.Target,
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		Key:     "reminder:" + id,
	})
	return err
}

// forget drops the wake-time record kept for a loop that has exited.
func (s *Service) forget(id string, _ reminder.Outcome) {
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
}

func (s *Service) markFilled(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
	if !s.filled.Claim(id) {
		return
	}
	s.log.Info("deal filled", logx.DealID(id))
	s.bus.Publish(eventbus.Event{Type: eventbus.DealFilled, Time: s.cfg.Now(), DealID: id})
	s.appendRecord(ctx, storage.SetFilled, id, nil)
}

func (s *Service) appendRecord(ctx context.Context, set, id string, fields map[string]string) {
	if s.store == nil {
		return
	}
	err := s.store.AppendRecord(ctx, set, storage.Record{DealID: id, At: s.cfg.Now(), Fields: fields})
	if err != nil {
		s.log.Warn("record append failed", logx.String("set", set), logx.DealID(id), logx.Err(err))
	}
}

// OnStartup restores the posted and filled sets, then runs the recovery
// scan to re-arm reminder loops. It must finish before the webhook accepts
// traffic.
func (s *Service) OnStartup(ctx context.Context) (recovery.Result, error) {
	if s.store == nil || s.scanner == nil {
		s.log.Warn("storage disabled; nothing to recover")
		return recovery.Result{}, nil
	}
	s.Restore(ctx)
	return s.scanner.Scan(ctx)
}

// Restore seeds the posted and filled sets from the record store.
func (s *Service) Restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	if ids, err := s.store.ListIDs(ctx, storage.SetDeals); err != nil {
		s.log.Warn("posted set not restored", logx.Err(err))
	} else {
		s.log.Info("posted set restored", logx.Int("ids", s.posted.Seed(ids)))
	}
	if ids, err := s.store.ListIDs(ctx, storage.SetFilled); err != nil {
		s.log.Warn("filled set not restored", logx.Err(err))
	} else {
		s.filled.Seed(ids)
	}
}

// Recover re-runs the recovery scan on demand.
func (s *Service) Recover(ctx context.Context) (recovery.Result, error) {
	if s.scanner == nil {
		return recovery.Result{}, storage.ErrDisabled
	}
	return s.scanner.Scan(ctx)
}

// Shutdown cancels every reminder loop and waits for them to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.reminders.Shutdown(ctx)
}
