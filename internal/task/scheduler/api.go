package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "serverwatch/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers a cron or interval job.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, 0, timeout, job)
	default:
		return fmt.Errorf("unsupported schedule kind")
	}
}

// AddCron registers job under a cron spec. Registering an existing name replaces it.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.add(&scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

// AddInterval registers job to run every `every`, the first time after firstDelay.
// Registering an existing name replaces it, keeping its run state so a run in
// flight still blocks overlapping triggers.
func (s *Service) AddInterval(name string, every, firstDelay, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(&scheduleDef{
		name:       name,
		spec:       "@every " + every.String(),
		every:      every,
		firstDelay: firstDelay,
		timeout:    timeout,
		job:        job,
	})
}

func (s *Service) add(d *scheduleDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d.state = &RunState{}
	if old := s.removeLocked(d.name); old != nil {
		d.state = old.state
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters a schedule. A run in flight is not interrupted.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name) != nil
}

func (s *Service) removeLocked(name string) *scheduleDef {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return d
	}
	return nil
}

func (s *Service) registerLocked(d *scheduleDef) {
	job := cron.FuncJob(func() { s.run(d) })
	if d.every > 0 {
		d.entryID = s.c.Schedule(intervalSchedule(d.every, d.firstDelay, time.Now().In(s.loc)), job)
	} else {
		eid, err := s.c.AddJob(d.spec, job)
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
			return
		}
		d.entryID = eid
	}
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
}

// Trigger runs the named schedule now, subject to the same overlap rule.
// It reports false if the schedule is unknown, not started, or already running.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	var def *scheduleDef
	for _, d := range s.defs {
		if d.name == name {
			def = d
			break
		}
	}
	started := s.c != nil
	s.mu.Unlock()
	if def == nil || !started || def.state.Running() {
		return false
	}
	go s.run(def)
	return true
}

func (s *Service) run(d *scheduleDef) {
	if !d.state.TryStart() {
		s.log.Warn("previous run still in flight; skipping trigger", logx.String("name", d.name))
		return
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	s.runs.Add(1)
	defer s.runs.Done()

	ctx := base
	cancel := context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	startedAt := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(ctx)
	}()
	d.state.Finish(startedAt, err)

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(startedAt)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job finished", logx.String("name", d.name), logx.Duration("took", time.Since(startedAt)))
}

// Snapshot returns every schedule sorted by name.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Running: d.state.Running(),
			Runs:    d.state.runs.Load(),
			Skipped: d.state.skipped.Load(),
			Failed:  d.state.failed.Load(),
		}
		d.state.mu.Lock()
		info.LastAt, info.LastTook, info.LastErr = d.state.lastAt, d.state.lastDur, d.state.lastErr
		d.state.mu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
