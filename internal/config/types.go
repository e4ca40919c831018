package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "150ms", "10s", "1m").
// Omitted or zero values fall back to the component defaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`

	// Channels lists the report targets as "<chat_id>" or "<chat_id>/<thread_id>".
	// At least two are required.
	Channels []string `json:"channels"`

	Registry  RegistryConfig  `json:"registry"`
	Query     QueryConfig     `json:"query"`
	Cycle     CycleConfig     `json:"cycle"`
	Sync      SyncConfig      `json:"sync"`
	Discovery DiscoveryConfig `json:"discovery"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type TelegramConfig struct {
	// Token can be overridden by SERVERWATCH_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// GroupLog is the chat that receives forwarded log lines (logging.telegram).
	GroupLog      string `json:"group_log"`
	APIRatePerSec int    `json:"api_rate_per_sec,omitempty"`
}

type RegistryConfig struct {
	Path        string `json:"path"`
	LoadTimeout string `json:"load_timeout,omitempty"` // default: "200ms"
}

type QueryConfig struct {
	Timeout     string `json:"timeout,omitempty"` // default: "150ms"
	Concurrency int    `json:"concurrency,omitempty"`
}

type CycleConfig struct {
	Interval   string `json:"interval,omitempty"`    // default: "60s"
	StartDelay string `json:"start_delay,omitempty"` // default: "5s"
	// Timeout bounds one cycle. "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

type SyncConfig struct {
	MaxChunkSize int `json:"max_chunk_size,omitempty"` // default: 2000, max 2048
}

// DiscoveryConfig controls the in-process registry discovery job.
//
// Schedule is a cron expression ("0 */6 * * *", "@hourly") or a duration ("6h").
// The prefixes "cron:" and "every:" force the kind.
type DiscoveryConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule,omitempty"` // default: "6h"
	APIKey   string   `json:"api_key,omitempty"`  // overridden by STEAM_API_KEY
	AppID    int      `json:"app_id,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Deny     []string `json:"deny,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
}

// HTTPConfig controls the optional status server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8080").
//   - A non-loopback address requires a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token (do not log)
}

// StorageConfig controls the optional cycle audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./serverwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Keep        int    `json:"keep,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Trigger timezone (IANA name). Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}
