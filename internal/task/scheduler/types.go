package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "serverwatch/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// RunState tracks the in-flight state of a schedule.
type RunState struct {
	running atomic.Bool

	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	lastAt  time.Time
	lastDur time.Duration
	lastErr string
}

// TryStart marks the schedule running. It reports false when a run is already in flight.
func (r *RunState) TryStart() bool {
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		return false
	}
	return true
}

// Finish records the outcome of a run started with TryStart.
func (r *RunState) Finish(startedAt time.Time, err error) {
	r.runs.Add(1)
	r.mu.Lock()
	r.lastAt = startedAt
	r.lastDur = time.Since(startedAt)
	r.lastErr = ""
	if err != nil {
		r.failed.Add(1)
		r.lastErr = err.Error()
	}
	r.mu.Unlock()
	r.running.Store(false)
}

func (r *RunState) Running() bool { return r.running.Load() }

type scheduleDef struct {
	name       string
	spec       string // cron spec or "@every <d>"
	every      time.Duration
	firstDelay time.Duration
	timeout    time.Duration
	job        Job
	entryID    cron.EntryID
	state      *RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// base is the parent context of every run; set by Start.
	base   context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// ScheduleInfo is a point-in-time view of one schedule.
type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
	Failed   uint64        `json:"failed"`
	LastAt   time.Time     `json:"last_at"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_err,omitempty"`
}
