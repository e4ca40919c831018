package app

import (
	"context"
	"strings"

	"serverwatch/internal/config"
	"serverwatch/internal/task/scheduler"
	logx "serverwatch/pkg/logx"
)

// watchConfig runs the file watcher and applies every validated edit.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

// applyConfig pushes the live-reloadable sections into the running components.
// newCfg has already passed validate.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	// restart-only sections arrive pinned; the config manager warns about them
	sections, attrs, _ := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	// logging first so the rest of the reload is logged with the new settings
	if lc, err := mapLoggingConfig(newCfg); err != nil {
		a.log.Warn("invalid logging config; keeping previous", logx.Err(err))
	} else {
		a.logs.Apply(lc)
	}

	a.adapter.SetRate(newCfg.Telegram.APIRatePerSec)

	if d, err := mapQueryTimeout(newCfg); err == nil {
		a.query.SetTimeout(d)
	}
	if rl, err := mapRegistryLoader(newCfg, a.root.With(logx.String("comp", "registry"))); err == nil {
		a.roster.cur.Store(rl)
	}
	if s, err := mapRunnerSettings(newCfg); err != nil {
		a.log.Warn("invalid channel settings; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(s)
	}

	a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})
	if timing, err := mapCycleTiming(newCfg); err != nil {
		a.log.Warn("invalid cycle config; keeping previous", logx.Err(err))
	} else if err := a.applyTriggers(newCfg, timing, 0); err != nil {
		a.log.Warn("schedule update failed", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// Reload re-reads the config file now (SIGHUP). An applied config reaches the
// running components the same way a file edit does.
func (a *App) Reload(ctx context.Context) {
	res, pinned, err := a.cfgm.Reload(ctx)
	fields := []logx.Field{logx.String("result", res.String())}
	if len(pinned) > 0 {
		fields = append(fields, logx.Strings("restart_required", pinned))
	}
	if err != nil {
		a.log.Warn("manual config reload", append(fields, logx.Err(err))...)
		return
	}
	a.log.Info("manual config reload", fields...)
}
