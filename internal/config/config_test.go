package config

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseJSONWithComments(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
  // bot session
  "telegram": { "token": "abc", "group_log": "-1001" },
  "channels": ["-100123", "-100456/7",],
  "query": { "timeout": "200ms" },
  /* audit */
  "storage": { "driver": "file", "path": "./audit.jsonl" }
}`)
	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.GroupLog != "-1001" {
		t.Fatalf("group_log=%q", cfg.Telegram.GroupLog)
	}
	if !slices.Equal(cfg.Channels, []string{"-100123", "-100456/7"}) {
		t.Fatalf("channels=%v", cfg.Channels)
	}
	if cfg.Query.Timeout != "200ms" {
		t.Fatalf("query.timeout=%q", cfg.Query.Timeout)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: abc
channels:
  - "-100123"
  - "-100456"
cycle:
  interval: 45s
logging:
  level: debug
  file:
    enabled: true
    path: ./serverwatch.log
    max_backups: 3
`)
	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Cycle.Interval != "45s" {
		t.Fatalf("cycle.interval=%q", cfg.Cycle.Interval)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.MaxBackups != 3 {
		t.Fatalf("logging.file=%+v", cfg.Logging.File)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels=%v", cfg.Channels)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"x"},"owner_user_ids":[1]}`},
		{"unknown nested field", "c.json", `{"query":{"timeout":"1s","retries":3}}`},
		{"trailing data", "c.json", `{"channels":[]} {"channels":[]}`},
		{"bad yaml", "c.yml", "telegram: [unclosed"},
		{"unknown yaml field", "c.yaml", "sync:\n  chunk: 10\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, tc.file, tc.body)
			if _, err := NewConfigManager(p).Parse(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: " from-env ",
		EnvSteamAPIKey:   "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := &Config{}
	cfg.Telegram.Token = "from-file"
	cfg.Discovery.APIKey = "key-file"
	applyEnv(cfg, lookup)
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if cfg.Discovery.APIKey != "key-file" {
		t.Fatalf("empty env must not override: %q", cfg.Discovery.APIKey)
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"channels":["1","2"]}`)
	m := NewConfigManager(p)
	if m.Get() != nil {
		t.Fatalf("expected nil before load")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestPublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("expected newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"channels":["1","2"]}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if len(cfg.Channels) < 2 {
			return errors.New("need two channels")
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// rejected by the validator: nothing is published
	if err := os.WriteFile(p, []byte(`{"channels":["1"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish: %+v", cfg)
	default:
	}

	if err := os.WriteFile(p, []byte(`{"channels":["1","2","3"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-sub:
		if len(cfg.Channels) != 3 {
			t.Fatalf("channels=%v", cfg.Channels)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
	if len(m.Get().Channels) != 3 {
		t.Fatalf("config not committed")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 150ms ", 150 * time.Millisecond, false},
		{"1m", time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tc.raw, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Second); d != time.Second {
		t.Fatalf("default not applied: %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Channels: []string{"1", "2"}}
	oldCfg.Telegram.Token = "a"
	oldCfg.HTTP.Token = "secret-a"

	newCfg := &Config{Channels: []string{"1", "2", "3"}}
	newCfg.Telegram.Token = "b"
	newCfg.HTTP.Token = "secret-b"
	newCfg.Logging.Level = "debug"

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"telegram.token", "channels", "http", "logging"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed=%v missing %q", changed, want)
		}
	}
	if slices.Contains(changed, "query") {
		t.Fatalf("query reported as changed: %v", changed)
	}
	if !slices.Equal(restart, []string{"telegram.token", "http"}) {
		t.Fatalf("restart=%v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	same, _, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("expected no changes, got %v", same)
	}
}

func TestReloadResults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"channels":["1","2"]}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if len(cfg.Channels) < 2 {
			return errors.New("need two channels")
		}
		return nil
	})
	sub := m.Subscribe(4)
	ctx := context.Background()

	steps := []struct {
		body string
		want ReloadResult
	}{
		{`{"channels":["1","2"]}`, ReloadUnchanged},
		{`{"channels":["1","2"],}x`, ReloadInvalid},
		{`{"channels":["1"]}`, ReloadRejected},
		{`{"channels":["1","2","3"]}`, ReloadApplied},
	}
	for _, st := range steps {
		if err := os.WriteFile(p, []byte(st.body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, _, err := m.Reload(ctx)
		if got != st.want {
			t.Fatalf("%s: result=%s want %s (err=%v)", st.body, got, st.want, err)
		}
		if (err != nil) != (st.want == ReloadInvalid || st.want == ReloadRejected) {
			t.Fatalf("%s: err=%v", st.body, err)
		}
	}
	if len(sub) != 1 || len(m.Get().Channels) != 3 {
		t.Fatalf("published=%d channels=%v", len(sub), m.Get().Channels)
	}
}

func TestReloadPinsRestartOnlySections(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"channels":["1","2"],"http":{"enabled":true,"addr":"127.0.0.1:8080"},"storage":{"driver":"file","path":"a.jsonl"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	body := `{"channels":["1","2","3"],"http":{"enabled":true,"addr":"127.0.0.1:9090"},"storage":{"driver":"sqlite","path":"b.db"}}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, pinned, err := m.Reload(context.Background())
	if err != nil || res != ReloadApplied {
		t.Fatalf("res=%s err=%v", res, err)
	}
	slices.Sort(pinned)
	if !slices.Equal(pinned, []string{"http", "storage"}) {
		t.Fatalf("pinned=%v", pinned)
	}
	cfg := m.Get()
	if cfg.HTTP.Addr != "127.0.0.1:8080" || cfg.Storage.Driver != "file" {
		t.Fatalf("restart-only sections not pinned: http=%+v storage=%+v", cfg.HTTP, cfg.Storage)
	}
	if len(cfg.Channels) != 3 {
		t.Fatalf("live section not applied: %v", cfg.Channels)
	}

	// same file again: the written content has not changed
	if res, _, _ := m.Reload(context.Background()); res != ReloadUnchanged {
		t.Fatalf("second reload=%s", res)
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	cur := 250 * time.Millisecond
	for i := 0; i < 8; i++ {
		wait, next := nextBackoff(rng, cur, 5*time.Second)
		if wait < cur || wait > cur+cur/2 {
			t.Fatalf("wait=%s for %s", wait, cur)
		}
		if next > 5*time.Second {
			t.Fatalf("next=%s exceeds cap", next)
		}
		cur = next
	}
	if cur != 5*time.Second {
		t.Fatalf("backoff did not reach the cap: %s", cur)
	}
}
