package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Environment variables that override the file. Secrets usually live here.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
	EnvHubSpotToken  = "HUBSPOT_PRIVATE_TOKEN"
	EnvOwnerProp     = "HUBSPOT_DEAL_OWNER_PROP"
	EnvLocationProp  = "HUBSPOT_DEAL_LOCATION_PROP"
	EnvPort          = "PORT"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChat); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvTelegramChat, v, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvHubSpotToken); ok {
		cfg.HubSpot.Token = v
	}
	if v, ok := get(EnvOwnerProp); ok {
		cfg.HubSpot.OwnerProp = v
	}
	if v, ok := get(EnvLocationProp); ok {
		cfg.HubSpot.LocationProp = v
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		host := ""
		if h, _, err := net.SplitHostPort(cfg.HTTP.Addr); err == nil {
			host = h
		}
		cfg.HTTP.Addr = net.JoinHostPort(host, v)
	}
	return nil
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.PollTimeout) == "" {
		cfg.Telegram.PollTimeout = "10s"
	}
	h := &cfg.HubSpot
	if strings.TrimSpace(h.BaseURL) == "" {
		h.BaseURL = "https://api.hubapi.com"
	}
	if strings.TrimSpace(h.Timeout) == "" {
		h.Timeout = "15s"
	}
	if strings.TrimSpace(h.OwnerProp) == "" {
		h.OwnerProp = "hubspot_owner_id"
	}
	if strings.TrimSpace(h.LocationProp) == "" {
		h.LocationProp = "location"
	}
	if strings.TrimSpace(h.TerminalProp) == "" {
		h.TerminalProp = h.LocationProp
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	r := &cfg.Reminder
	if r.StartHour == 0 && r.EndHour == 0 {
		r.StartHour, r.EndHour = 9, 18
	}
	if strings.TrimSpace(r.Timezone) == "" {
		r.Timezone = "UTC"
	}
	if r.BusinessHours <= 0 {
		r.BusinessHours = 8
	}
	if cfg.Recovery.Concurrency <= 0 {
		cfg.Recovery.Concurrency = 4
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or %s)", EnvTelegramToken))
	}
	if cfg.Telegram.ChatID == 0 {
		errs = append(errs, fmt.Errorf("telegram.chat_id is required (or %s)", EnvTelegramChat))
	}
	if strings.TrimSpace(cfg.HubSpot.Token) == "" {
		errs = append(errs, fmt.Errorf("hubspot.token is required (or %s)", EnvHubSpotToken))
	}
	r := cfg.Reminder
	if r.StartHour < 0 || r.EndHour > 24 || r.StartHour >= r.EndHour {
		errs = append(errs, fmt.Errorf("reminder: invalid window %d-%d", r.StartHour, r.EndHour))
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("reminder.timezone: %w", err))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"hubspot.timeout":          cfg.HubSpot.Timeout,
		"http.read_header_timeout": cfg.HTTP.ReadHeaderTimeout,
		"reminder.test_delay":      r.TestDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
