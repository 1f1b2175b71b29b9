package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dealbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher channels closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// The directory is watched so editors that replace the file are seen.
// A broken watcher is recreated with jittered, capped backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	backoff := watchBackoffMin
	for {
		healthy, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			backoff = watchBackoffMin
		}
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher stopped; restarting",
			logx.String("path", m.path), logx.Err(err), logx.Duration("backoff", wait))
		backoff = min(backoff*2, watchBackoffMax)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one watcher until it fails or ctx ends. healthy reports
// whether the watch was established at all.
func (m *ConfigManager) watchOnce(ctx context.Context) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	// Writes arrive in bursts; reload once the burst settles.
	settle := time.NewTimer(reloadDebounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errWatcherClosed
			}
			if !strings.EqualFold(filepath.Base(ev.Name), name) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				settle.Reset(reloadDebounce)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errWatcherClosed
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				settle.Reset(reloadDebounce)
				continue
			}
			if werr != nil {
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(werr))
			}
		case <-settle.C:
			m.reload()
		}
	}
}

func (m *ConfigManager) reload() {
	changed, err := m.Reload()
	switch {
	case err != nil:
		m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
	case changed:
		m.log.Debug("config published", logx.String("path", m.path))
	default:
		m.log.Debug("config unchanged", logx.String("path", m.path))
	}
}
