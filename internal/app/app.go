package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"serverwatch/internal/chansync"
	"serverwatch/internal/config"
	"serverwatch/internal/cycle"
	"serverwatch/internal/discovery"
	"serverwatch/internal/eventbus"
	"serverwatch/internal/httpapi"
	"serverwatch/internal/query"
	"serverwatch/internal/registry"
	rtsup "serverwatch/internal/runtime/supervisor"
	"serverwatch/internal/state"
	"serverwatch/internal/storage"
	"serverwatch/internal/task/scheduler"
	telegram "serverwatch/internal/transport/telegram/adapter"
	logx "serverwatch/pkg/logx"
	"serverwatch/pkg/systemd"
)

// Schedule names.
const (
	jobCycle     = "cycle"
	jobDiscovery = "discovery"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *systemd.Notifier

	adapter *telegram.Adapter
	query   *query.Client
	roster  *rosterLoader
	runner  *cycle.Runner
	sched   *scheduler.Service
	http    *httpapi.Service

	// last applied trigger settings; guarded by mu
	mu        sync.Mutex
	timing    cycleTiming
	discovery discoveryState
}

type discoveryState struct {
	enabled  bool
	schedule string
	cfg      discovery.Config
	registry string
}

// rosterLoader lets the registry settings be swapped between cycles.
type rosterLoader struct {
	cur atomic.Pointer[registry.Loader]
}

func (r *rosterLoader) Load(ctx context.Context) []registry.Server {
	return r.cur.Load().Load(ctx)
}

// New loads the config and builds every component. It fails when the config is
// invalid or the chat platform rejects the token.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logCfg, _ := mapLoggingConfig(cfg)
	// The chat sink has no sender until the session exists; lines queued before are dropped.
	logSvc, root := logx.New(logCfg, nil)
	log := root.With(logx.String("comp", "app"))

	ad, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.APIRatePerSec,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		log.Error("telegram login failed", logx.Err(err))
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	// Storage (optional)
	var store storage.Store
	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New()

	qTimeout, _ := mapQueryTimeout(cfg)
	qc := query.NewClient(&query.A2S{}, qTimeout, root.With(logx.String("comp", "query")))

	roster := &rosterLoader{}
	rl, _ := mapRegistryLoader(cfg, root.With(logx.String("comp", "registry")))
	roster.cur.Store(rl)

	settings, _ := mapRunnerSettings(cfg)
	runner := cycle.NewRunner(cycle.Deps{
		Loader:  roster,
		Querier: qc,
		Cache:   state.NewCache(),
		Syncer:  chansync.NewEngine(ad, root.With(logx.String("comp", "chansync"))),
		Sets:    chansync.NewSets(),
		Store:   store,
		Bus:     bus,
		Log:     root.With(logx.String("comp", "cycle")),
	}, settings)

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, root.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		root:    root,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sd:      systemd.New(),
		adapter: ad,
		query:   qc,
		roster:  roster,
		runner:  runner,
		sched:   sched,
	}

	hc, _ := mapHTTPConfig(cfg)
	a.http = httpapi.New(hc, httpapi.Deps{
		StartTime: time.Now(),
		Last:      runner.Last,
		Store:     store,
		Schedules: sched.Snapshot,
		Health:    a.health,
		Bus:       bus,
	}, root.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) health() rtsup.Counters {
	if a.sup == nil {
		return rtsup.Counters{}
	}
	return a.sup.Counters()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.root.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	cfg := a.cfgm.Get()
	timing, _ := mapCycleTiming(cfg)
	if err := a.applyTriggers(cfg, timing, timing.StartDelay); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	a.watchEvents()
	a.watchConfig()

	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready", logx.Duration("watchdog", a.sd.WatchdogInterval()))
	}
	a.log.Info("app started",
		logx.Int("channels", len(a.runner.Settings().Channels)),
		logx.Duration("interval", timing.Interval),
		logx.Duration("start_delay", timing.StartDelay),
	)
	return nil
}

// applyTriggers (re)registers the cycle and discovery schedules when their
// settings changed. firstDelay applies to a (re)registered cycle schedule.
func (a *App) applyTriggers(cfg *config.Config, timing cycleTiming, firstDelay time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if timing != a.timing {
		if err := a.sched.AddInterval(jobCycle, timing.Interval, firstDelay, timing.Timeout, a.runner.Run); err != nil {
			return fmt.Errorf("cycle schedule: %w", err)
		}
		a.timing = timing
	}

	dcfg, schedule, err := mapDiscovery(cfg)
	if err != nil {
		return err
	}
	next := discoveryState{
		enabled:  cfg.Discovery.Enabled,
		schedule: schedule,
		cfg:      dcfg,
		registry: cfg.Registry.Path,
	}
	if equalDiscovery(next, a.discovery) {
		return nil
	}
	a.discovery = next
	if !next.enabled {
		if a.sched.Remove(jobDiscovery) {
			a.log.Info("discovery disabled via config")
		}
		return nil
	}
	job := &discovery.Job{
		Lister:       discovery.NewSteamClient(next.cfg, nil),
		Deny:         next.cfg.Deny,
		RegistryPath: next.registry,
		Log:          a.root.With(logx.String("comp", "discovery")),
		Bus:          a.bus,
	}
	run := func(ctx context.Context) error {
		_, err := job.Run(ctx)
		return err
	}
	if err := a.sched.AddSchedule(jobDiscovery, next.schedule, DefaultDiscoveryTimeout, run); err != nil {
		return fmt.Errorf("discovery schedule: %w", err)
	}
	a.log.Info("discovery scheduled", logx.String("schedule", next.schedule))
	return nil
}

func equalDiscovery(a, b discoveryState) bool {
	if a.enabled != b.enabled || a.schedule != b.schedule || a.registry != b.registry {
		return false
	}
	x, y := a.cfg, b.cfg
	if x.Endpoint != y.Endpoint || x.APIKey != y.APIKey || x.AppID != y.AppID ||
		x.Limit != y.Limit || x.Timeout != y.Timeout || len(x.Deny) != len(y.Deny) {
		return false
	}
	for i := range x.Deny {
		if x.Deny[i] != y.Deny[i] {
			return false
		}
	}
	return true
}

// watchEvents pings the systemd watchdog after every cycle and logs bus traffic.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(16)
	a.sup.Go0("eventbus.watch", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level; a cycle finishes every interval.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				switch e.Type {
				case eventbus.CycleFinished:
					if _, err := a.sd.Watchdog(); err != nil {
						a.log.Warn("systemd watchdog notify failed", logx.Err(err))
					}
					if sum, ok := e.Data.(cycle.Summary); ok {
						_, _ = a.sd.Status(fmt.Sprintf("%d/%d servers responded, %d reported", sum.Responded, sum.Roster, len(sum.Records)))
					}
				case eventbus.RegistryUpdated:
					if res, ok := e.Data.(discovery.Result); ok {
						a.log.Info("registry updated", logx.Int("added", res.Added), logx.Int("total", res.Total))
					}
				}
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		if limit > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first: it cancels and waits for an in-flight cycle.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	// Finally, wait for supervised goroutines (config watch/reload, event watcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
