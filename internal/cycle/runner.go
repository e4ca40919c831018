// Package cycle runs one poll/report/sync pass: load the roster, query every
// server, update the state cache, render the report and sync it to each channel.
package cycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"serverwatch/internal/chansync"
	"serverwatch/internal/eventbus"
	"serverwatch/internal/query"
	"serverwatch/internal/registry"
	"serverwatch/internal/report"
	"serverwatch/internal/state"
	"serverwatch/internal/storage"
	kit "serverwatch/internal/transport"
	logx "serverwatch/pkg/logx"
)

// DefaultConcurrency bounds parallel server queries.
const DefaultConcurrency = 8

type RosterLoader interface {
	Load(ctx context.Context) []registry.Server
}

type Querier interface {
	Query(ctx context.Context, address string, port int) (query.Info, bool)
}

type Syncer interface {
	Sync(ctx context.Context, to kit.ChatTarget, previous []kit.MessageRef, content string, maxChunkSize int) ([]kit.MessageRef, chansync.Stats, error)
}

// Settings are the live-reloadable knobs of a cycle.
type Settings struct {
	Channels     []kit.ChatTarget
	Concurrency  int
	MaxChunkSize int
}

// Summary describes the last finished cycle.
type Summary struct {
	At        time.Time               `json:"at"`
	Roster    int                     `json:"roster"`
	Responded int                     `json:"responded"`
	Records   []state.Entry           `json:"records"`
	Report    string                  `json:"-"`
	Channels  []storage.ChannelResult `json:"channels"`
	Took      time.Duration           `json:"took"`
	Error     string                  `json:"error,omitempty"`
}

type Deps struct {
	Loader  RosterLoader
	Querier Querier
	Cache   *state.Cache
	Syncer  Syncer
	Sets    *chansync.Sets
	Store   storage.Store // optional
	Bus     eventbus.Bus  // optional
	Log     logx.Logger
}

type Runner struct {
	d Deps

	mu       sync.RWMutex
	settings Settings
	last     Summary
}

func NewRunner(d Deps, s Settings) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Cache == nil {
		d.Cache = state.NewCache()
	}
	if d.Sets == nil {
		d.Sets = chansync.NewSets()
	}
	r := &Runner{d: d}
	r.Apply(s)
	return r
}

// Apply swaps the settings used by the next cycle.
func (r *Runner) Apply(s Settings) {
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.MaxChunkSize <= 0 {
		s.MaxChunkSize = chansync.DefaultMaxChunkSize
	}
	s.Channels = append([]kit.ChatTarget(nil), s.Channels...)
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *Runner) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Last returns the summary of the last finished cycle (zero before the first).
func (r *Runner) Last() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run executes one cycle. Unreachable servers and failing channels are logged
// and skipped; the returned error joins the channel failures.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	set := r.Settings()
	log := r.d.Log

	roster, _ := registry.Merge(nil, r.d.Loader.Load(ctx))
	entries := r.queryAll(ctx, roster, set.Concurrency)
	now := r.d.Cache.Now()
	content := report.Build(entries, now)

	var errs []error
	results := make([]storage.ChannelResult, 0, len(set.Channels))
	for _, ch := range set.Channels {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		prev := r.d.Sets.Get(ch)
		next, st, err := r.d.Syncer.Sync(ctx, ch, prev, content, set.MaxChunkSize)
		r.d.Sets.Put(ch, next)

		res := storage.ChannelResult{
			Channel:      ch.String(),
			Messages:     len(next),
			Edited:       st.Edited,
			Created:      st.Created,
			Deleted:      st.Deleted,
			DeleteFailed: st.DeleteFailed,
		}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, err)
			if errors.Is(err, chansync.ErrChannelUnavailable) {
				log.Warn("channel unavailable; skipped this cycle", logx.String("channel", ch.String()), logx.Err(err))
			} else {
				log.Error("channel sync failed", logx.String("channel", ch.String()), logx.Err(err))
			}
		}
		results = append(results, res)
	}
	err := errors.Join(errs...)

	sum := Summary{
		At:        start,
		Roster:    len(roster),
		Responded: len(entries),
		Records:   report.Rank(entries),
		Report:    content,
		Channels:  results,
		Took:      time.Since(start),
	}
	if err != nil {
		sum.Error = err.Error()
	}
	r.mu.Lock()
	r.last = sum
	r.mu.Unlock()

	log.Info("cycle finished",
		logx.Int("roster", sum.Roster),
		logx.Int("responded", sum.Responded),
		logx.Int("reported", len(sum.Records)),
		logx.Int("channels", len(results)),
		logx.Duration("took", sum.Took),
	)
	r.record(ctx, sum)
	if r.d.Bus != nil {
		r.d.Bus.Publish(eventbus.Event{Type: eventbus.CycleFinished, Time: time.Now(), Data: sum})
	}
	return err
}

// queryAll queries every server with at most `limit` queries in flight and
// returns the updated cache entries of the servers that answered, in roster order.
func (r *Runner) queryAll(ctx context.Context, roster []registry.Server, limit int) []state.Entry {
	results := make([]*state.Entry, len(roster))
	sem := make(chan struct{}, max(limit, 1))
	var wg sync.WaitGroup

	for i, srv := range roster {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			info, ok := r.d.Querier.Query(ctx, srv.Address, srv.Port)
			if !ok {
				return
			}
			e := r.d.Cache.Update(srv.Key(), info)
			results[i] = &e
		}()
	}
	wg.Wait()

	entries := make([]state.Entry, 0, len(roster))
	for _, e := range results {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}

func (r *Runner) record(ctx context.Context, sum Summary) {
	if r.d.Store == nil {
		return
	}
	rec := storage.CycleRecord{
		At:        sum.At,
		Roster:    sum.Roster,
		Responded: sum.Responded,
		Reported:  len(sum.Records),
		Channels:  sum.Channels,
		TookMS:    sum.Took.Milliseconds(),
		Error:     sum.Error,
	}
	// The cycle context may already be done; the audit write gets its own budget.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.d.Store.AppendCycle(sctx, rec); err != nil {
		r.d.Log.Warn("cycle audit write failed", logx.Err(err))
	}
}
