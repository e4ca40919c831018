package app

import (
	"fmt"
	"strings"
	"time"

	"serverwatch/internal/config"
	"serverwatch/internal/cycle"
	"serverwatch/internal/discovery"
	"serverwatch/internal/httpapi"
	"serverwatch/internal/query"
	"serverwatch/internal/registry"
	"serverwatch/internal/storage"
	"serverwatch/internal/task/scheduler"
	kit "serverwatch/internal/transport"
	telegram "serverwatch/internal/transport/telegram/adapter"
	logx "serverwatch/pkg/logx"
)

const (
	DefaultCycleInterval     = 60 * time.Second
	DefaultCycleStartDelay   = 5 * time.Second
	DefaultCycleTimeout      = 50 * time.Second
	DefaultDiscoverySchedule = "6h"
	DefaultDiscoveryTimeout  = 2 * time.Minute
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultSQLiteBusy        = 1 * time.Second

	minChannels = 2
)

// cycleTiming is the trigger side of the cycle config.
type cycleTiming struct {
	Interval   time.Duration
	StartDelay time.Duration
	Timeout    time.Duration
}

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// validate rejects configs that would break the running bot. It runs at startup
// and before every hot reload is committed.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", config.EnvTelegramToken)
	}
	if cfg.Telegram.APIRatePerSec < 0 {
		return fmt.Errorf("telegram.api_rate_per_sec must be >= 0")
	}
	if _, err := mapLogChatTarget(cfg); err != nil {
		return err
	}
	if _, err := mapRunnerSettings(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Registry.Path) == "" {
		return fmt.Errorf("registry.path is required")
	}
	if _, err := mapRegistryLoader(cfg, logx.Nop()); err != nil {
		return err
	}
	if _, err := mapQueryTimeout(cfg); err != nil {
		return err
	}
	if _, err := mapCycleTiming(cfg); err != nil {
		return err
	}
	if _, _, err := mapDiscovery(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLoggingConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func mapRunnerSettings(cfg *config.Config) (cycle.Settings, error) {
	if len(cfg.Channels) < minChannels {
		return cycle.Settings{}, fmt.Errorf("channels: at least %d targets are required, got %d", minChannels, len(cfg.Channels))
	}
	seen := make(map[kit.ChatTarget]bool, len(cfg.Channels))
	targets := make([]kit.ChatTarget, 0, len(cfg.Channels))
	for i, raw := range cfg.Channels {
		t, err := kit.ParseChatTarget(raw)
		if err != nil {
			return cycle.Settings{}, fmt.Errorf("channels[%d]: %w", i, err)
		}
		if seen[t] {
			return cycle.Settings{}, fmt.Errorf("channels[%d]: duplicate target %s", i, t)
		}
		seen[t] = true
		targets = append(targets, t)
	}
	if cfg.Query.Concurrency < 0 {
		return cycle.Settings{}, fmt.Errorf("query.concurrency must be >= 0")
	}
	if n := cfg.Sync.MaxChunkSize; n < 0 || n > telegram.MaxChunkRunes {
		return cycle.Settings{}, fmt.Errorf("sync.max_chunk_size must be between 1 and %d", telegram.MaxChunkRunes)
	}
	return cycle.Settings{
		Channels:     targets,
		Concurrency:  cfg.Query.Concurrency,
		MaxChunkSize: cfg.Sync.MaxChunkSize,
	}, nil
}

func mapRegistryLoader(cfg *config.Config, log logx.Logger) (*registry.Loader, error) {
	timeout, err := parseDurationOrDefault("registry.load_timeout", cfg.Registry.LoadTimeout, registry.DefaultLoadTimeout)
	if err != nil {
		return nil, err
	}
	return &registry.Loader{
		Path:    strings.TrimSpace(cfg.Registry.Path),
		Timeout: timeout,
		Log:     log,
	}, nil
}

func mapQueryTimeout(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("query.timeout", cfg.Query.Timeout, query.DefaultTimeout)
}

func mapCycleTiming(cfg *config.Config) (cycleTiming, error) {
	var (
		ct  cycleTiming
		err error
	)
	if ct.Interval, err = parseDurationOrDefault("cycle.interval", cfg.Cycle.Interval, DefaultCycleInterval); err != nil {
		return cycleTiming{}, err
	}
	if ct.Interval < time.Second {
		return cycleTiming{}, fmt.Errorf("cycle.interval must be at least 1s")
	}
	if strings.TrimSpace(cfg.Cycle.StartDelay) == "" {
		ct.StartDelay = DefaultCycleStartDelay
	} else if ct.StartDelay, err = parseDurationField("cycle.start_delay", cfg.Cycle.StartDelay); err != nil {
		return cycleTiming{}, err
	}
	if strings.TrimSpace(cfg.Cycle.Timeout) == "" {
		ct.Timeout = DefaultCycleTimeout
	} else if ct.Timeout, err = parseDurationField("cycle.timeout", cfg.Cycle.Timeout); err != nil {
		return cycleTiming{}, err
	}
	return ct, nil
}

// mapDiscovery returns the Steam client config and the job schedule.
// It is validated even when discovery is disabled so a later enable cannot fail.
func mapDiscovery(cfg *config.Config) (discovery.Config, string, error) {
	dc := cfg.Discovery
	timeout, err := parseDurationOrDefault("discovery.timeout", dc.Timeout, discovery.DefaultTimeout)
	if err != nil {
		return discovery.Config{}, "", err
	}
	schedule := strings.TrimSpace(dc.Schedule)
	if schedule == "" {
		schedule = DefaultDiscoverySchedule
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return discovery.Config{}, "", fmt.Errorf("discovery.schedule: %w", err)
	}
	if dc.AppID < 0 || dc.Limit < 0 {
		return discovery.Config{}, "", fmt.Errorf("discovery.app_id and discovery.limit must be >= 0")
	}
	if dc.Enabled && strings.TrimSpace(dc.APIKey) == "" {
		return discovery.Config{}, "", fmt.Errorf("discovery.api_key is required when discovery is enabled (or set %s)", config.EnvSteamAPIKey)
	}
	return discovery.Config{
		Endpoint: strings.TrimSpace(dc.Endpoint),
		APIKey:   strings.TrimSpace(dc.APIKey),
		AppID:    dc.AppID,
		Limit:    dc.Limit,
		Deny:     dc.Deny,
		Timeout:  timeout,
	}, schedule, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := httpapi.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    strings.TrimSpace(cfg.HTTP.Addr),
		Pprof:   cfg.HTTP.Pprof,
		Token:   strings.TrimSpace(cfg.HTTP.Token),
	}
	if hc.Addr == "" {
		hc.Addr = DefaultHTTPAddr
	}
	return hc, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if !storage.ValidDriver(driver) {
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	if sc.Keep < 0 {
		return storage.Config{}, false, fmt.Errorf("storage.keep must be >= 0")
	}
	busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, DefaultSQLiteBusy)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Keep: sc.Keep}, true, nil
}

// mapLogChatTarget resolves telegram.group_log plus logging.telegram.thread_id.
// A zero target means no log group is configured.
func mapLogChatTarget(cfg *config.Config) (kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		if cfg.Logging.Telegram.Enabled {
			return kit.ChatTarget{}, fmt.Errorf("logging.telegram.enabled requires telegram.group_log")
		}
		return kit.ChatTarget{}, nil
	}
	t, err := kit.ParseChatTarget(raw)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.group_log: %w", err)
	}
	if t.ThreadID == 0 {
		t.ThreadID = cfg.Logging.Telegram.ThreadID
	}
	return t, nil
}

func mapLoggingConfig(cfg *config.Config) (logx.Config, error) {
	lc := cfg.Logging
	if !logx.ValidLevel(lc.Level) {
		return logx.Config{}, fmt.Errorf("logging.level: unknown level %q", lc.Level)
	}
	if lc.Telegram.MinLevel != "" && !logx.ValidLevel(lc.Telegram.MinLevel) {
		return logx.Config{}, fmt.Errorf("logging.telegram.min_level: unknown level %q", lc.Telegram.MinLevel)
	}
	if lc.File.Enabled && strings.TrimSpace(lc.File.Path) == "" {
		return logx.Config{}, fmt.Errorf("logging.file.path is required when file logging is enabled")
	}
	if lc.File.MaxSizeMB < 0 || lc.File.MaxBackups < 0 || lc.File.MaxAgeDays < 0 || lc.Telegram.RatePerSec < 0 {
		return logx.Config{}, fmt.Errorf("logging: sizes, counts and rates must be >= 0")
	}
	target, err := mapLogChatTarget(cfg)
	if err != nil {
		return logx.Config{}, err
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       strings.TrimSpace(lc.File.Path),
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			Target:     target,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}, nil
}
