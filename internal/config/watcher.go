package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager serves the current config snapshot to request-time readers and
// reloads the YAML file when it changes on disk. Only tunable limits take
// effect on reload; listen address, storage path, and credentials require a
// restart.
type Manager struct {
	mu      sync.RWMutex
	path    string
	current *Config
}

func NewManager(cfg *Config, path string) *Manager {
	return &Manager{path: strings.TrimSpace(path), current: cfg}
}

// Current returns the latest config snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// DailyTokenLimit reads the cap from the latest snapshot. Passed to the
// quota guard so reloads take effect per request.
func (m *Manager) DailyTokenLimit() int64 {
	return m.Current().DailyTokenLimit
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		log.WithField("component", "config").WithError(err).Error("config reload failed, keeping previous config")
		return
	}

	m.mu.Lock()
	previous := m.current
	m.current = cfg
	m.mu.Unlock()

	if previous != nil && previous.DailyTokenLimit != cfg.DailyTokenLimit {
		log.WithFields(log.Fields{
			"component": "config",
			"old_limit": previous.DailyTokenLimit,
			"new_limit": cfg.DailyTokenLimit,
		}).Info("daily token limit updated")
	}
}

// Watch blocks until ctx is done, reloading the config file on writes.
// Editors replace files rather than writing in place, so the parent
// directory is watched and events are filtered by name.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	abs, err := filepath.Abs(m.path)
	if err != nil {
		return fmt.Errorf("config watcher: resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithField("component", "config").WithError(err).Warn("config watcher error")
		}
	}
}
