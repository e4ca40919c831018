package app

import (
	"context"
	"fmt"
	"strings"

	"serverwatch/internal/config"
	"serverwatch/internal/discovery"
	logx "serverwatch/pkg/logx"
)

// Discover runs the registry discovery job once, outside the bot. Only the
// registry, discovery and logging sections of the config are used; the
// discovery.enabled flag is ignored.
func Discover(ctx context.Context, cfgPath string, dryRun bool) (discovery.Result, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return discovery.Result{}, fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(cfg.Registry.Path) == "" {
		return discovery.Result{}, fmt.Errorf("config: registry.path is required")
	}
	if strings.TrimSpace(cfg.Discovery.APIKey) == "" {
		return discovery.Result{}, fmt.Errorf("config: discovery.api_key is required (or set %s)", config.EnvSteamAPIKey)
	}
	dcfg, _, err := mapDiscovery(cfg)
	if err != nil {
		return discovery.Result{}, fmt.Errorf("config: %w", err)
	}

	lc, err := mapLoggingConfig(cfg)
	if err != nil {
		return discovery.Result{}, fmt.Errorf("config: %w", err)
	}
	// No chat session in this process.
	lc.Chat.Enabled = false
	logs, root := logx.New(lc, nil)
	defer func() { _ = logs.Close() }()

	job := &discovery.Job{
		Lister:       discovery.NewSteamClient(dcfg, nil),
		Deny:         dcfg.Deny,
		RegistryPath: strings.TrimSpace(cfg.Registry.Path),
		DryRun:       dryRun,
		Log:          root.With(logx.String("comp", "discovery")),
	}
	return job.Run(ctx)
}
