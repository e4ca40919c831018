package registry

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	logx "serverwatch/pkg/logx"
)

func TestMergeDedupsAndPreservesOrder(t *testing.T) {
	t.Parallel()

	existing := []Server{{"1.1.1.1", 7777}, {"2.2.2.2", 7777}, {"1.1.1.1", 7777}}
	incoming := []Server{{"3.3.3.3", 7000}, {"2.2.2.2", 7777}, {"3.3.3.3", 7000}, {"1.1.1.1", 7778}}

	got, added := Merge(existing, incoming)
	want := []Server{{"1.1.1.1", 7777}, {"2.2.2.2", 7777}, {"3.3.3.3", 7000}, {"1.1.1.1", 7778}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge=%v want %v", got, want)
	}
	if added != 2 {
		t.Fatalf("added=%d want 2", added)
	}

	seen := map[string]bool{}
	for _, s := range got {
		if seen[s.Key()] {
			t.Fatalf("duplicate key %s", s.Key())
		}
		seen[s.Key()] = true
	}
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "servers.json")
	servers := []Server{{"10.0.0.1", 7777}, {"example.org", 27015}}
	if err := Save(path, servers); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l := &Loader{Path: path, Timeout: time.Second, Log: logx.Nop()}
	got := l.Load(context.Background())
	if !reflect.DeepEqual(got, servers) {
		t.Fatalf("Load=%v want %v", got, servers)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestLoadFailuresReturnEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"address":`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := map[string]string{
		"missing": filepath.Join(dir, "missing.json"),
		"invalid": bad,
	}
	for name, path := range cases {
		l := &Loader{Path: path, Log: logx.Nop()}
		got := l.Load(context.Background())
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: Load=%v want empty non-nil slice", name, got)
		}
	}
}

func TestServerKey(t *testing.T) {
	t.Parallel()

	s := Server{Address: "::1", Port: 7777}
	if s.Key() != "::1:7777" {
		t.Fatalf("Key=%q", s.Key())
	}
	if s.HostPort() != "[::1]:7777" {
		t.Fatalf("HostPort=%q", s.HostPort())
	}
}
