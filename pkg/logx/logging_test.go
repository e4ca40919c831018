package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	kit "serverwatch/internal/transport"
)

type fakeSender struct {
	got chan string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.got <- to.String() + " " + text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop is a configured logger")
	}
}

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn").With(String("comp", "cycle"))
	l.Info("hidden")
	l.Warn("channel unavailable", Int("chunks", 3), Err(errors.New("forbidden")), Duration("took", time.Second))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["comp"] != "cycle" || m["message"] != "channel unavailable" || m["err"] != "forbidden" {
		t.Fatalf("record=%v", m)
	}
	if m["chunks"] != float64(3) {
		t.Fatalf("chunks=%v", m["chunks"])
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "INFO", " warn ", "warning", "error", "trace"} {
		if !ValidLevel(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []string{"loud", "fatal", "3"} {
		if ValidLevel(s) {
			t.Fatalf("%q should be invalid", s)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","time":"x","message":"registry load failed","path":"./servers.json","err":"timeout"}`))
	want := "[WARN] registry load failed\n- err=timeout\n- path=./servers.json"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatChatLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line=%q", got)
	}
	long := formatChatLine([]byte(`{"level":"error","message":"` + strings.Repeat("x", 5000) + `"}`))
	if len(long) > chatTextLimit {
		t.Fatalf("len=%d exceeds %d", len(long), chatTextLimit)
	}
}

func TestChatSinkForwardsAtMinLevel(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{got: make(chan string, 4)}
	svc, log := New(Config{
		Level: "debug",
		Chat: ChatConfig{
			Enabled:    true,
			Target:     kit.ChatTarget{ChatID: -1001, ThreadID: 3},
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, sender)
	defer func() { _ = svc.Close() }()

	log.Info("not forwarded")
	log.Warn("forwarded", String("channel", "-1002"))

	select {
	case msg := <-sender.got:
		if !strings.HasPrefix(msg, "-1001/3 [WARN] forwarded") {
			t.Fatalf("msg=%q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing forwarded")
	}
	select {
	case msg := <-sender.got:
		t.Fatalf("unexpected second message %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
