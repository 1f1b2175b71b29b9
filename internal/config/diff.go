package config

import (
	"reflect"
	"strconv"
	"strings"

	logx "dealbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe structured attrs for
// logging (never tokens), and whether any changed section needs a restart.
// Logging, owners and the log chat apply live.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	// Telegram (never log token). Owners and the log chat apply live.
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	live := ot.GroupLog != nt.GroupLog || !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs)
	cold := ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.Token != nt.Token ||
		!reflect.DeepEqual(ot.OwnerMentions, nt.OwnerMentions)
	if live || cold {
		changed = append(changed, "telegram")
		restart = restart || cold
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.mention_count", len(nt.OwnerMentions)),
			logx.Bool("telegram.group_log_set", nt.GroupLog != 0),
		)
	}

	// HubSpot (never log token)
	oh, nh := oldCfg.HubSpot, newCfg.HubSpot
	oh.Token, nh.Token = tokenMark(oh.Token), tokenMark(nh.Token)
	if !reflect.DeepEqual(oh, nh) {
		changed = append(changed, "hubspot")
		restart = true
		attrs = append(attrs,
			logx.String("hubspot.owner_prop", nh.OwnerProp),
			logx.String("hubspot.location_prop", nh.LocationProp),
			logx.String("hubspot.gating_prop", nh.GatingProp),
			logx.String("hubspot.terminal_prop", nh.TerminalProp),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		restart = true
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		restart = true
		r := newCfg.Reminder
		attrs = append(attrs,
			logx.Int("reminder.start_hour", r.StartHour),
			logx.Int("reminder.end_hour", r.EndHour),
			logx.String("reminder.timezone", r.Timezone),
			logx.String("reminder.test_delay", r.TestDelay),
		)
	}

	if oldCfg.Recovery != newCfg.Recovery {
		changed = append(changed, "recovery")
		restart = true
		attrs = append(attrs,
			logx.Bool("recovery.disabled", newCfg.Recovery.Disabled),
			logx.String("recovery.resync_schedule", newCfg.Recovery.ResyncSchedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = true
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	return changed, attrs, restart
}

func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set:" + hashHex(s)
}

func hashHex(s string) string {
	return strconv.FormatUint(hashBytes([]byte(s)), 16)
}
