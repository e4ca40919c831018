package cycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"serverwatch/internal/chansync"
	"serverwatch/internal/eventbus"
	"serverwatch/internal/query"
	"serverwatch/internal/registry"
	"serverwatch/internal/state"
	"serverwatch/internal/storage"
	kit "serverwatch/internal/transport"
	logx "serverwatch/pkg/logx"
)

type staticRoster []registry.Server

func (s staticRoster) Load(context.Context) []registry.Server { return s }

type fakeQuerier struct {
	infos map[string]query.Info
	delay time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeQuerier) Query(ctx context.Context, address string, port int) (query.Info, bool) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	info, ok := f.infos[registry.Server{Address: address, Port: port}.Key()]
	return info, ok
}

type syncCall struct {
	to      kit.ChatTarget
	prev    int
	content string
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	fail  map[kit.ChatTarget]error
}

func (f *fakeSyncer) Sync(ctx context.Context, to kit.ChatTarget, previous []kit.MessageRef, content string, maxChunkSize int) ([]kit.MessageRef, chansync.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{to: to, prev: len(previous), content: content})
	if err := f.fail[to]; err != nil {
		return previous, chansync.Stats{}, err
	}
	refs := []kit.MessageRef{{ChatID: to.ChatID, MessageID: len(f.calls)}}
	return refs, chansync.Stats{Chunks: 1, Created: 1}, nil
}

var (
	chanA = kit.ChatTarget{ChatID: -1001}
	chanB = kit.ChatTarget{ChatID: -1002, ThreadID: 7}
)

func TestRunBuildsReportFromRespondingServers(t *testing.T) {
	t.Parallel()

	roster := staticRoster{
		{Address: "10.0.0.1", Port: 7777},
		{Address: "10.0.0.2", Port: 7777},
		{Address: "10.0.0.3", Port: 7777},
		{Address: "10.0.0.1", Port: 7777},
	}
	q := &fakeQuerier{infos: map[string]query.Info{
		"10.0.0.1:7777": {Name: "Low", Players: 20, Map: "Dust"},
		"10.0.0.3:7777": {Name: "High  ", Players: 60, Map: "SKM_A"},
	}}
	syncer := &fakeSyncer{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(2, eventbus.CycleFinished)
	defer unsub()

	r := NewRunner(Deps{Loader: roster, Querier: q, Syncer: syncer, Bus: bus, Log: logx.Nop()},
		Settings{Channels: []kit.ChatTarget{chanA, chanB}})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(syncer.calls) != 2 || syncer.calls[0].to != chanA || syncer.calls[1].to != chanB {
		t.Fatalf("sync calls=%+v", syncer.calls)
	}
	want := "🟢 60 - High - 30 min.⌛\n🟡 20 - Low - 90 min.⌛\n"
	if syncer.calls[0].content != want {
		t.Fatalf("content=%q want %q", syncer.calls[0].content, want)
	}

	sum := r.Last()
	if sum.Roster != 3 || sum.Responded != 2 || len(sum.Records) != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	select {
	case e := <-events:
		if e.Data.(Summary).Responded != 2 {
			t.Fatalf("event data=%+v", e.Data)
		}
	default:
		t.Fatalf("no cycle.finished event")
	}
}

func TestRunExcludesServersThatStopAnswering(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{infos: map[string]query.Info{"10.0.0.1:7777": {Name: "A", Players: 30, Map: "m"}}}
	syncer := &fakeSyncer{}
	r := NewRunner(Deps{Loader: staticRoster{{Address: "10.0.0.1", Port: 7777}}, Querier: q, Syncer: syncer},
		Settings{Channels: []kit.ChatTarget{chanA}})

	_ = r.Run(context.Background())
	q.infos = map[string]query.Info{}
	_ = r.Run(context.Background())

	if got := syncer.calls[1].content; !strings.Contains(got, "Derzeit sind keine Server aktiv.") {
		t.Fatalf("second report=%q", got)
	}
	if syncer.calls[1].prev != 1 {
		t.Fatalf("message set not carried across cycles: prev=%d", syncer.calls[1].prev)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var roster staticRoster
	infos := map[string]query.Info{}
	for i := 0; i < 20; i++ {
		s := registry.Server{Address: "10.0.1." + string(rune('a'+i)), Port: 7777}
		roster = append(roster, s)
		infos[s.Key()] = query.Info{Name: s.Address, Players: 15 + i, Map: "m"}
	}
	q := &fakeQuerier{infos: infos, delay: 5 * time.Millisecond}
	r := NewRunner(Deps{Loader: roster, Querier: q, Syncer: &fakeSyncer{}},
		Settings{Channels: []kit.ChatTarget{chanA}, Concurrency: 3})

	_ = r.Run(context.Background())
	if p := q.peak.Load(); p > 3 || p < 1 {
		t.Fatalf("peak in-flight=%d want 1..3", p)
	}
	if r.Last().Responded != 20 {
		t.Fatalf("responded=%d", r.Last().Responded)
	}
}

func TestRunChannelFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{fail: map[kit.ChatTarget]error{
		chanA: errors.Join(chansync.ErrChannelUnavailable, errors.New("chat not found")),
	}}
	path := filepath.Join(t.TempDir(), "cycles.jsonl")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	sets := chansync.NewSets()
	r := NewRunner(Deps{Loader: staticRoster{}, Querier: &fakeQuerier{}, Syncer: syncer, Sets: sets, Store: st, Cache: state.NewCache()},
		Settings{Channels: []kit.ChatTarget{chanA, chanB}})

	if err := r.Run(context.Background()); !errors.Is(err, chansync.ErrChannelUnavailable) {
		t.Fatalf("err=%v want ErrChannelUnavailable", err)
	}
	if len(syncer.calls) != 2 {
		t.Fatalf("second channel not synced")
	}
	if sets.Len(chanA) != 0 || sets.Len(chanB) != 1 {
		t.Fatalf("sets A=%d B=%d", sets.Len(chanA), sets.Len(chanB))
	}

	recs, err := st.RecentCycles(context.Background(), 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("RecentCycles=%v err=%v", recs, err)
	}
	if recs[0].Channels[0].Error == "" || recs[0].Channels[1].Created != 1 {
		t.Fatalf("audit record=%+v", recs[0])
	}
}
