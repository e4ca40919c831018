package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "serverwatch/pkg/logx"
)

// Environment variables that override secrets from the file.
const (
	EnvTelegramToken = "SERVERWATCH_TELEGRAM_TOKEN"
	EnvSteamAPIKey   = "STEAM_API_KEY"
)

// ConfigManager owns the current config and republishes validated edits of the file.
type ConfigManager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash tracks the last successfully committed config content.
	// It helps avoid redundant publishes when the editor causes multiple write events
	// without content changes.
	lastHash uint64
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook used by Watch() before committing/publishing.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Path returns the watched file.
func (m *ConfigManager) Path() string { return m.path }

// Parse reads and strictly decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
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
	applyEnv(&cfg, os.LookupEnv)
	return &cfg, nil
}

// applyEnv overlays non-empty environment secrets onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvSteamAPIKey); ok && strings.TrimSpace(v) != "" {
		cfg.Discovery.APIKey = strings.TrimSpace(v)
	}
}

// Commit makes cfg the current config without publishing it.
func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// ReloadResult is the outcome of one Reload.
type ReloadResult int

const (
	ReloadApplied ReloadResult = iota
	ReloadUnchanged
	ReloadInvalid  // parse error
	ReloadRejected // validator error
)

func (r ReloadResult) String() string {
	switch r {
	case ReloadApplied:
		return "applied"
	case ReloadUnchanged:
		return "unchanged"
	case ReloadInvalid:
		return "invalid"
	case ReloadRejected:
		return "rejected"
	}
	return "unknown"
}

// Reload re-reads the file, validates it and publishes it to subscribers.
//
// Sections that only take effect after a restart (the bot token, storage and
// the status API) are pinned to the running values, so Get always describes
// what the process actually uses. The pinned sections are returned.
func (m *ConfigManager) Reload(ctx context.Context) (ReloadResult, []string, error) {
	cfg, err := m.Parse()
	if err != nil {
		return ReloadInvalid, nil, err
	}

	// The hash covers the file as written; pinning must not defeat the skip.
	h := hashConfig(cfg)
	m.mu.RLock()
	cur := m.cfg
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return ReloadUnchanged, nil, nil
	}

	pinned := pinRestartOnly(cur, cfg)

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return ReloadRejected, pinned, err
		}
	}

	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = h
	m.mu.Unlock()
	m.publish(cfg)
	return ReloadApplied, pinned, nil
}

// pinRestartOnly copies the restart-only sections of cur into next and
// returns the names of those that differed.
func pinRestartOnly(cur, next *Config) []string {
	if cur == nil || next == nil {
		return nil
	}
	_, _, restart := SummarizeConfigChange(cur, next)
	for _, section := range restart {
		switch section {
		case "telegram.token":
			next.Telegram.Token = cur.Telegram.Token
		case "storage":
			next.Storage = cur.Storage
		case "http":
			next.HTTP = cur.HTTP
		}
	}
	return restart
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Always try to deliver the latest config.
		// If subscriber is slow and buffer is full, drop ONE oldest item then push the newest.
		select {
		case ch <- cfg:
			// delivered
		default:
			// drop oldest (if any)
			select {
			case <-ch:
			default:
			}
			// best-effort deliver latest
			select {
			case ch <- cfg:
			default:
				// still full; give up
				if !m.log.IsZero() {
					m.log.Debug(
						"config update dropped (subscriber slow)",
						logx.Int("queue_len", len(ch)),
						logx.Int("queue_cap", cap(ch)),
					)
				}
			}
		}
	}
}

func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	// When fsnotify gets into a bad state (common on Windows + certain editors),
	// the watcher may stop delivering events or close its channels.
	// Self-heal by recreating the watcher with a small exponential backoff.
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	// local RNG to avoid global contention (and to keep jitter deterministic per process).
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if !m.log.IsZero() {
			m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			res, pinned, err := m.Reload(ctx)
			if m.log.IsZero() {
				return
			}
			switch res {
			case ReloadInvalid:
				m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
			case ReloadRejected:
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			case ReloadUnchanged:
				m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
			case ReloadApplied:
				if len(pinned) > 0 {
					m.log.Warn("config changes require a restart to take effect", logx.Strings("sections", pinned))
				}
				m.log.Debug("config published", logx.String("path", m.path))
			}
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			}
			var wait time.Duration
			wait, backoff = nextBackoff(rng, backoff, restartBackoffMax)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !m.log.IsZero() {
				m.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			}
			var wait time.Duration
			wait, backoff = nextBackoff(rng, backoff, restartBackoffMax)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		if !m.log.IsZero() {
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		// inner loop: runs until watcher breaks, then outer loop recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (more robust across absolute/relative paths and OS quirks).
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				// Avoid depending on a specific fsnotify error constant across versions.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					if !m.log.IsZero() {
						m.log.Warn("config watch overflow; forcing reload", logx.Err(err), logx.String("dir", dir))
					}
					debounce()
					continue
				}
				if !m.log.IsZero() {
					m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
				}
				// Some fsnotify backends surface watcher closure via an error.
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
					break
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		// restart with a small jittered backoff to avoid tight restart loops.
		var wait time.Duration
		wait, backoff = nextBackoff(rng, backoff, restartBackoffMax)
		if !m.log.IsZero() {
			m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.String("file", file), logx.Duration("backoff", wait))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			continue
		}
	}
}

// nextBackoff returns the jittered wait for cur and the doubled, capped next step.
func nextBackoff(rng *rand.Rand, cur, limit time.Duration) (time.Duration, time.Duration) {
	wait := cur + time.Duration(rng.Int63n(int64(cur/2)+1))
	next := cur * 2
	if next > limit {
		next = limit
	}
	return wait, next
}
