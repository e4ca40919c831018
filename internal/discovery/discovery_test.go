package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/registry"
	logx "serverwatch/pkg/logx"
)

func TestFilter(t *testing.T) {
	t.Parallel()

	in := []SteamServer{
		{Addr: "1.1.1.1:7777", Name: "German Fun"},
		{Addr: "2.2.2.2:7777", Name: "Weekly event night"},
		{Addr: "3.3.3.3:7777", Name: "Jager Squad"},
		{Addr: "4.4.4.4:7777", Name: "SWEDEN #1"},
		{Addr: "5.5.5.5:7777", Name: "badgergrounds"},
		{Addr: "bogus", Name: "No port"},
		{Addr: "6.6.6.6:0", Name: "Zero port"},
		{Addr: "7.7.7.7:27015", Name: "MEILENSTEIN"},
	}
	got := Filter(in, DefaultDeny)
	want := []registry.Server{{Address: "1.1.1.1", Port: 7777}, {Address: "7.7.7.7", Port: 27015}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Filter=%v want %v", got, want)
	}
}

func TestSteamClientList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("filter") != `\appid\686810` || q.Get("limit") != "1000" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"servers": []map[string]any{
					{"addr": "1.1.1.1:7777", "name": "A", "players": 3},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewSteamClient(Config{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	got, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Addr != "1.1.1.1:7777" || got[0].Players != 3 {
		t.Fatalf("List=%+v", got)
	}
}

func TestSteamClientErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewSteamClient(Config{Endpoint: srv.URL, APIKey: "k"}, srv.Client()).List(context.Background()); err == nil {
		t.Fatalf("expected error on 403")
	}
	if _, err := NewSteamClient(Config{Endpoint: srv.URL}, srv.Client()).List(context.Background()); err == nil {
		t.Fatalf("expected error on empty key")
	}
}

type staticLister []SteamServer

func (s staticLister) List(context.Context) ([]SteamServer, error) { return s, nil }

func TestJobMergesIntoRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.json")
	if err := registry.Save(path, []registry.Server{{Address: "1.1.1.1", Port: 7777}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.RegistryUpdated)
	defer unsub()

	j := &Job{
		Lister: staticLister{
			{Addr: "1.1.1.1:7777", Name: "Known"},
			{Addr: "2.2.2.2:7777", Name: "New"},
			{Addr: "3.3.3.3:7777", Name: "EVENT"},
		},
		RegistryPath: path,
		Log:          logx.Nop(),
		Bus:          bus,
	}
	res, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != (Result{Fetched: 3, Kept: 2, Added: 1, Total: 2}) {
		t.Fatalf("Result=%+v", res)
	}
	got, err := registry.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []registry.Server{{Address: "1.1.1.1", Port: 7777}, {Address: "2.2.2.2", Port: 7777}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("registry=%v want %v", got, want)
	}
	if len(events) != 1 {
		t.Fatalf("expected one registry.updated event")
	}
}

func TestJobDryRunAndCorruptRegistry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.json")
	j := &Job{Lister: staticLister{{Addr: "2.2.2.2:7777", Name: "New"}}, RegistryPath: fresh, DryRun: true, Log: logx.Nop()}
	res, err := j.Run(context.Background())
	if err != nil || res.Added != 1 {
		t.Fatalf("dry run: res=%+v err=%v", res, err)
	}
	if _, err := os.Stat(fresh); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote the registry")
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	j = &Job{Lister: staticLister{{Addr: "2.2.2.2:7777", Name: "New"}}, RegistryPath: corrupt, Log: logx.Nop()}
	if _, err := j.Run(context.Background()); err == nil {
		t.Fatalf("expected refusal to overwrite a corrupt registry")
	}
}
