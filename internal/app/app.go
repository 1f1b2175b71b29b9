package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealbot/internal/config"
	"dealbot/internal/crm/hubspot"
	"dealbot/internal/eventbus"
	"dealbot/internal/metrics"
	"dealbot/internal/notifier"
	"dealbot/internal/observability/pprof"
	"dealbot/internal/recovery"
	rtsup "dealbot/internal/runtime/supervisor"
	"dealbot/internal/storage"
	kit "dealbot/internal/transport"
	telegram "dealbot/internal/transport/telegram/adapter"
	"dealbot/internal/transport/telegram/router"
	"dealbot/internal/webhook"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	svc     *Service
	cmdm    *router.CommandManager
	metrics *metrics.Metrics
	http    *webhook.Server
	resync  *recovery.Resyncer
	pprof   *pprof.Server

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The chat sink stays silent until a target is set.
	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	logSvc.SetChatTarget(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; reminders will not survive a restart")
	}

	hcfg, err := mapHubSpotConfig(cfg)
	if err != nil {
		return nil, err
	}
	crm, err := hubspot.New(hcfg, log.With(logx.String("comp", "hubspot")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")))

	delay, clock, err := mapReminderDelay(cfg)
	if err != nil {
		return nil, err
	}
	target := kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
	props := crm.Props()
	svc := NewService(ServiceConfig{
		Target:        target,
		Fields:        renderFields(props),
		TerminalLabel: props.Terminal,
		Mentions:      cfg.Telegram.OwnerMentions,
		Delay:         delay,
		Recovery:      recovery.Config{Concurrency: cfg.Recovery.Concurrency},
	}, crm, notif, store, log.With(logx.String("comp", "deals")), bus)

	var resync *recovery.Resyncer
	if spec := strings.TrimSpace(cfg.Recovery.ResyncSchedule); spec != "" && svc.Scanner() != nil {
		resync, err = recovery.NewResyncer(spec, clock.Location(), svc.Scanner(), log.With(logx.String("comp", "resync")))
		if err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, svc.Reminders().Len)

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	NewCommands(svc, crm, notif, store, target, clock).Register(cmdm)

	rht, err := config.ParseDurationOrDefault("http.read_header_timeout", cfg.HTTP.ReadHeaderTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	hooks := webhook.New(svc, log.With(logx.String("comp", "webhook")), m)
	httpSrv := webhook.NewServer(cfg.HTTP.Addr,
		webhook.Router(hooks, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		rht, log.With(logx.String("comp", "http")))

	var prof *pprof.Server
	if p := cfg.HTTP.Pprof; p != nil {
		prof, err = pprof.New(pprof.Config{Addr: p.Addr, Token: p.Token, AllowInsecure: p.AllowInsecure}, log.With(logx.String("comp", "pprof")))
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		svc:     svc,
		cmdm:    cmdm,
		metrics: m,
		http:    httpSrv,
		resync:  resync,
		pprof:   prof,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings the app up in order: recovery, HTTP bind, readiness, then
// chat polling. Recovery finishes before the webhook can deliver events.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.sup.Go("metrics.events", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	// Queued edits drain in Stop after the supervisor is cancelled.
	a.notif.Start(context.WithoutCancel(ctx))

	if !a.cfg.Recovery.Disabled {
		res, err := a.svc.OnStartup(run)
		if err != nil {
			a.log.Error("recovery failed; continuing without restored reminders", logx.Err(err))
		} else {
			a.log.Info("recovery complete",
				logx.Int("restored", res.Restored),
				logx.Int("skipped", res.Skipped),
				logx.Int("errored", res.Errored))
		}
	} else {
		a.svc.Restore(run)
		a.log.Info("recovery scan disabled")
	}
	if a.resync != nil {
		a.resync.Start()
	}

	ln, err := a.http.Listen()
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.sup.Go("http.serve", func(c context.Context) error {
		return a.http.Serve(c, ln)
	})

	if a.pprof != nil {
		a.pprof.Start(run)
	}

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	if d := systemd.WatchdogInterval(); d > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, d) })
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if err := a.adapter.SetCommands(a.cmdm.Menu()); err != nil {
		a.log.Warn("bot command menu not set", logx.Err(err))
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("http", a.cfg.HTTP.Addr), logx.Int("reminders", a.svc.Reminders().Len()))
	return nil
}

// startConfigReload applies logging changes live; other sections only warn.
func (a *App) startConfigReload() {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.logs.SetChatTarget(newCfg.Telegram.GroupLog, newCfg.Logging.Telegram.ThreadID)
				a.logs.Apply(mapLogConfig(newCfg))
				a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				if restart {
					a.log.Warn("config changed; restart required for non-logging sections", fields...)
				} else {
					a.log.Info("config reloaded", fields...)
				}
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("resync", 2*time.Second, func(c context.Context) error {
		if a.resync != nil {
			a.resync.Stop(c)
		}
		return nil
	})
	step("pprof", 2*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			return a.pprof.Stop(c)
		}
		return nil
	})
	step("reminders", 3*time.Second, a.svc.Shutdown)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 11*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
