package app

import (
	"fmt"
	"strings"
	"time"

	"dealbot/internal/businesshours"
	"dealbot/internal/compose"
	"dealbot/internal/config"
	"dealbot/internal/crm/hubspot"
	"dealbot/internal/notifier"
	"dealbot/internal/reminder"
	"dealbot/internal/storage"
	logx "dealbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Workers:    2,
		QueueSize:  512,
		RatePerSec: 3,
		RetryMax:   3,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	out.RetryMax = n.RetryMax
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapHubSpotConfig(cfg *config.Config) (hubspot.Config, error) {
	h := cfg.HubSpot
	timeout, err := config.ParseDurationOrDefault("hubspot.timeout", h.Timeout, 15*time.Second)
	if err != nil {
		return hubspot.Config{}, err
	}
	return hubspot.Config{
		Token:   h.Token,
		BaseURL: h.BaseURL,
		Timeout: timeout,
		Props: hubspot.Properties{
			Owner:    h.OwnerProp,
			Location: h.LocationProp,
			Gating:   h.GatingProp,
			Terminal: h.TerminalProp,
			Extra:    h.ExtraFields,
		},
	}, nil
}

// renderFields is the post render table: the fixed fields plus configured extras.
func renderFields(p hubspot.Properties) []compose.Field {
	extra := make([]compose.Field, 0, len(p.Extra))
	for _, prop := range p.Extra {
		if prop = strings.TrimSpace(prop); prop != "" {
			extra = append(extra, compose.Field{Label: prop, Prop: prop})
		}
	}
	return compose.DefaultFields(p, extra...)
}

// mapReminderDelay returns the per-cycle delay and the business clock.
func mapReminderDelay(cfg *config.Config) (reminder.DelayFunc, businesshours.Clock, error) {
	r := cfg.Reminder
	clock, err := businesshours.New(r.StartHour, r.EndHour, r.Timezone)
	if err != nil {
		return nil, businesshours.Clock{}, err
	}
	test, err := config.ParseDurationField("reminder.test_delay", r.TestDelay)
	if err != nil {
		return nil, businesshours.Clock{}, err
	}
	if test > 0 {
		return reminder.FixedDelay(test), clock, nil
	}
	hours := r.BusinessHours
	return func(now time.Time) time.Duration { return clock.Delay(now, hours) }, clock, nil
}
