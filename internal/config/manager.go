package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"notewatch/pkg/logx"
)

// Manager owns the config file. Reads are strict (unknown fields are
// rejected) and every check cycle calls Reload() so operator edits take
// effect without restarting; Watch() additionally picks up edits between
// cycles so bot commands see a current subscriber list.
type Manager struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cfg *Config
}

func NewManager(path string, log logx.Logger) *Manager {
	return &Manager{path: path, log: log}
}

func (m *Manager) Path() string { return m.path }

// SetLogger replaces the bootstrap logger once the log service is up.
func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads and decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load parses and commits. Used at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Reload is the force-refresh used at the start of every check cycle.
func (m *Manager) Reload() (*Config, error) { return m.Load() }

// Get returns the last committed config. May be nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// AdminChatID is a convenience for the alert path: 0 when unconfigured.
func (m *Manager) AdminChatID() int64 {
	if cfg := m.Get(); cfg != nil {
		return cfg.Telegram.AdminChatID
	}
	return 0
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// AddSubscriber appends id to the persisted subscriber list and rewrites the
// config file through a backup copy, so a crash mid-write leaves either the
// old file or a complete new one.
func (m *Manager) AddSubscriber(id int64) error {
	return m.mutateSubscribers(func(ids []int64) []int64 {
		if slices.Contains(ids, id) {
			return ids
		}
		return append(ids, id)
	})
}

func (m *Manager) RemoveSubscriber(id int64) error {
	return m.mutateSubscribers(func(ids []int64) []int64 {
		return slices.DeleteFunc(ids, func(x int64) bool { return x == id })
	})
}

func (m *Manager) mutateSubscribers(mutate func([]int64) []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	jb, format, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return err
	}
	var cfg Config
	if err := json.Unmarshal(jb, &cfg); err != nil {
		return err
	}

	cfg.Telegram.SubscriberIDs = mutate(cfg.Telegram.SubscriberIDs)

	out, err := encodeConfig(&cfg, format)
	if err != nil {
		return err
	}
	backup := m.path + ".backup"
	if err := os.WriteFile(backup, out, 0o600); err != nil {
		return fmt.Errorf("write config backup: %w", err)
	}
	if err := os.Rename(backup, m.path); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}

	// Keep the in-memory view in sync; secrets were stripped from the file
	// representation, so re-apply env overrides.
	cfg.applyEnv()
	m.cfg = &cfg
	return nil
}

// Watch re-parses the file on change (debounced, since editors produce
// bursts of partial writes) and commits valid content. Invalid edits are
// logged and ignored; the previous config stays active.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}

	file := filepath.Base(m.path)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		cfg, err := m.Parse()
		if err != nil {
			m.log.Warn("config parse failed; keeping previous config", logx.Err(err))
			return
		}
		m.commit(cfg)
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, reload)
	}

	for {
		select {
		case <-ctx.Done():
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}

func encodeConfig(cfg *Config, format string) ([]byte, error) {
	if format == "yaml" {
		return marshalYAML(cfg)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
