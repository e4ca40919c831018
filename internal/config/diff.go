package config

import (
	"reflect"
	"strings"

	logx "serverwatch/pkg/logx"
)

// Sections that only take effect after a restart.
var restartOnly = map[string]bool{
	"telegram.token": true,
	"storage":        true,
	"http":           true,
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed sections that need a restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.APIRatePerSec != newCfg.Telegram.APIRatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Int("telegram.api_rate_per_sec", newCfg.Telegram.APIRatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Int("channels.count", len(newCfg.Channels)))
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.String("registry.path", strings.TrimSpace(newCfg.Registry.Path)),
			logx.String("registry.load_timeout", strings.TrimSpace(newCfg.Registry.LoadTimeout)),
		)
	}

	if oldCfg.Query != newCfg.Query {
		changed = append(changed, "query")
		attrs = append(attrs,
			logx.String("query.timeout", strings.TrimSpace(newCfg.Query.Timeout)),
			logx.Int("query.concurrency", newCfg.Query.Concurrency),
		)
	}

	if oldCfg.Cycle != newCfg.Cycle {
		changed = append(changed, "cycle")
		attrs = append(attrs,
			logx.String("cycle.interval", strings.TrimSpace(newCfg.Cycle.Interval)),
			logx.String("cycle.timeout", strings.TrimSpace(newCfg.Cycle.Timeout)),
		)
	}

	if oldCfg.Sync != newCfg.Sync {
		changed = append(changed, "sync")
		attrs = append(attrs, logx.Int("sync.max_chunk_size", newCfg.Sync.MaxChunkSize))
	}

	// Discovery (never log api key)
	if !reflect.DeepEqual(oldCfg.Discovery, newCfg.Discovery) {
		changed = append(changed, "discovery")
		attrs = append(attrs,
			logx.Bool("discovery.enabled", newCfg.Discovery.Enabled),
			logx.String("discovery.schedule", strings.TrimSpace(newCfg.Discovery.Schedule)),
			logx.Bool("discovery.api_key_set", strings.TrimSpace(newCfg.Discovery.APIKey) != ""),
		)
	}

	// HTTP (never log token)
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
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

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	var restart []string
	for _, s := range changed {
		if restartOnly[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
