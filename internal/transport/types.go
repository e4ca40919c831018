package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget addresses a chat (and optionally a forum topic inside it).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String renders the target in the same form ParseChatTarget accepts.
func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChatTarget parses "<chat_id>" or "<chat_id>/<thread_id>".
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("chat target is empty")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", chatPart)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", threadPart)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// ErrMessageGone is returned by Adapter calls whose message no longer exists
// (deleted by an admin or never posted).
var ErrMessageGone = errors.New("message gone")

// MessageRef is an opaque handle to a posted message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the minimal outbound surface (used by the log sink).
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is the chat platform boundary used by the channel sync engine.
// Every call may fail; callers decide the failure policy.
type Adapter interface {
	Sender

	// FetchChannel verifies the target chat is reachable for this bot.
	FetchChannel(ctx context.Context, to ChatTarget) error
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	Stop(ctx context.Context) error
}
