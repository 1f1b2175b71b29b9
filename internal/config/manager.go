package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	logx "dealbot/pkg/logx"
)

// ConfigManager owns the committed config and fans reloads out to subscribers.
type ConfigManager struct {
	path string
	env  LookupFunc
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// subsMu is held while sending so Unsubscribe never closes a channel mid-send.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		env:  os.LookupEnv,
		log:  logx.Nop(),
		subs: map[chan *Config]struct{}{},
	}
}

// SetEnv replaces the environment lookup (nil disables overrides).
func (m *ConfigManager) SetEnv(fn LookupFunc) { m.env = fn }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// Parse reads the file, overlays the environment and fills defaults.
// It does not validate or commit.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(m.path, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.path, err)
	}
	if err := ApplyEnv(cfg, m.env); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Load parses, validates and commits the file. Subscribers are not notified.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m.commit(cfg, fingerprint(cfg))
	return cfg, nil
}

// Reload re-reads the file and publishes it when its content changed.
// An unreadable or invalid file leaves the committed config in place.
func (m *ConfigManager) Reload() (changed bool, err error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	fp := fingerprint(cfg)
	m.mu.RLock()
	same := fp != 0 && fp == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := Validate(cfg); err != nil {
		return false, fmt.Errorf("invalid config: %w", err)
	}
	m.commit(cfg, fp)
	m.publish(cfg)
	return true, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) commit(cfg *Config, fp uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, fp
	m.mu.Unlock()
}

// fingerprint hashes the effective config; 0 means unknown.
func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Subscribe returns a channel that receives every published config.
// A slow subscriber only ever misses stale configs, never the latest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}
