package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	HubSpot  HubSpotConfig  `json:"hubspot"`
	HTTP     HTTPConfig     `json:"http"`
	Reminder ReminderConfig `json:"reminder"`
	Recovery RecoveryConfig `json:"recovery"`
	Logging  LoggingConfig  `json:"logging"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the group that receives deal posts and reminders.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// GroupLog is the operator chat for the log sink (0 disables it).
	GroupLog     int64   `json:"group_log,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// OwnerMentions maps CRM owner ids to Telegram usernames.
	OwnerMentions map[string]string `json:"owner_mentions,omitempty"`
}

// HubSpotConfig names the CRM endpoint and the deal properties the bot reads.
//
// Defaults:
//   - base_url: "https://api.hubapi.com"
//   - timeout: "15s"
//   - owner_prop: "hubspot_owner_id"
//   - location_prop: "location"
//   - terminal_prop: location_prop
//   - gating_prop: "" (every deal passes the gate)
type HubSpotConfig struct {
	Token        string   `json:"token"`
	BaseURL      string   `json:"base_url,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
	OwnerProp    string   `json:"owner_prop,omitempty"`
	LocationProp string   `json:"location_prop,omitempty"`
	GatingProp   string   `json:"gating_prop,omitempty"`
	TerminalProp string   `json:"terminal_prop,omitempty"`
	ExtraFields  []string `json:"extra_fields,omitempty"`
}

type HTTPConfig struct {
	// Addr defaults to ":8080"; the PORT env var overrides the port.
	Addr              string `json:"addr"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	// Pprof enables a separate profiling listener when set.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

type PprofConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ReminderConfig controls the business-hours reminder loop.
//
// Defaults: 9-18 Mon-Fri, UTC, 8 business hours between reminders.
// TestDelay replaces the business-hours delay with a fixed one when set.
type ReminderConfig struct {
	StartHour     int     `json:"start_hour"`
	EndHour       int     `json:"end_hour"`
	Timezone      string  `json:"timezone"`
	BusinessHours float64 `json:"business_hours"`
	TestDelay     string  `json:"test_delay,omitempty"`
}

type RecoveryConfig struct {
	// Disabled skips the startup scan; the posted sets are still restored.
	Disabled    bool `json:"disabled,omitempty"`
	Concurrency int  `json:"concurrency,omitempty"`
	// ResyncSchedule is a cron expression in the reminder timezone ("" disables resync).
	ResyncSchedule string `json:"resync_schedule,omitempty"`
}

// NotifierConfig controls the outbound chat pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dealbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
