package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	"serverwatch/internal/chansync"
	kit "serverwatch/internal/transport"
)

func TestIsNotModified(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("telegram: Bad Request: message is not modified: specified new message content and reply markup are exactly the same (400)"), true},
		{errors.New("telegram: Bad Request: message to edit not found (400)"), false},
		{fmt.Errorf("edit: %w", tele.ErrMessageNotModified), true},
	}
	for _, tc := range cases {
		if got := isNotModified(tc.err); got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.err, got, tc.want)
		}
	}
}

func TestWrapGone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		gone bool
	}{
		{nil, false},
		{errors.New("telegram: message to edit not found (400)"), true},
		{errors.New("telegram: Bad Request: MESSAGE_ID_INVALID (400)"), true},
		{fmt.Errorf("delete: %w", tele.ErrNotFoundToDelete), true},
		{errors.New("telegram: Forbidden: bot was kicked from the group chat (403)"), false},
	}
	for _, tc := range cases {
		err := wrapGone(tc.err)
		if got := errors.Is(err, kit.ErrMessageGone); got != tc.gone {
			t.Fatalf("%v: gone=%v want %v", tc.err, got, tc.gone)
		}
		if tc.err != nil && err == nil {
			t.Fatalf("%v: error swallowed", tc.err)
		}
	}
}

func TestSendOptions(t *testing.T) {
	t.Parallel()
	o := sendOptions(nil, 12)
	if !o.DisableWebPagePreview || o.ThreadID != 12 {
		t.Fatalf("default options=%+v", o)
	}
	o = sendOptions(&kit.SendOptions{ParseMode: "HTML"}, 0)
	if o.ParseMode != "HTML" || o.DisableWebPagePreview {
		t.Fatalf("explicit options=%+v", o)
	}
}

func TestWaitHonorsRate(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	a.SetRate(1)
	ctx := context.Background()
	if err := a.wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	// the burst is spent; the next token is ~1s away
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := a.wait(short); err == nil {
		t.Fatalf("expected the limiter to block past the deadline")
	}
}

func TestMaxChunkFitsTextLimit(t *testing.T) {
	t.Parallel()
	content := strings.Repeat("🟢 x\n", MaxChunkRunes)
	for i, c := range chansync.Chunk(content, MaxChunkRunes) {
		if n := len(utf16.Encode([]rune(c))); n > TextLimit {
			t.Fatalf("chunk %d is %d UTF-16 units, limit %d", i, n, TextLimit)
		}
	}
	if n := len(utf16.Encode([]rune(strings.Repeat("🟡", MaxChunkRunes)))); n != TextLimit {
		t.Fatalf("all-indicator chunk=%d units", n)
	}
}
