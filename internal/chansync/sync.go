// Package chansync keeps a channel's messages in step with the current report
// by editing existing messages in place, creating missing ones and deleting
// surplus ones.
package chansync

import (
	"context"
	"errors"
	"fmt"

	kit "serverwatch/internal/transport"
	logx "serverwatch/pkg/logx"
)

// ErrChannelUnavailable is returned when the channel cannot be fetched; nothing was changed.
var ErrChannelUnavailable = errors.New("channel unavailable")

// Stats counts the operations of one Sync.
type Stats struct {
	Chunks       int `json:"chunks"`
	Edited       int `json:"edited"`
	Created      int `json:"created"`
	Deleted      int `json:"deleted"`
	DeleteFailed int `json:"delete_failed"`
	// Replaced counts owned messages found deleted and posted again.
	Replaced int `json:"replaced"`
}

type Engine struct {
	adapter kit.Adapter
	log     logx.Logger
	opts    kit.SendOptions
}

func NewEngine(adapter kit.Adapter, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		adapter: adapter,
		log:     log,
		opts:    kit.SendOptions{DisablePreview: true},
	}
}

// Sync reconciles the channel's previous messages with content split at maxChunkSize.
//
// Chunk i edits previous[i] when it exists and is created otherwise; a
// previous message that is gone (kit.ErrMessageGone) is replaced by a new one
// in the same slot. Previous messages past the last chunk are deleted. Delete
// failures are logged and the handle is dropped. On an edit or create failure Sync stops and returns the
// messages it still owns: new handles for the chunks already written followed
// by the untouched previous handles.
func (e *Engine) Sync(ctx context.Context, to kit.ChatTarget, previous []kit.MessageRef, content string, maxChunkSize int) ([]kit.MessageRef, Stats, error) {
	chunks := Chunk(content, maxChunkSize)
	st := Stats{Chunks: len(chunks)}

	if err := e.adapter.FetchChannel(ctx, to); err != nil {
		return previous, st, fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, to, err)
	}

	next := make([]kit.MessageRef, 0, len(chunks))
	for i, text := range chunks {
		if i < len(previous) {
			err := e.adapter.EditText(ctx, previous[i], text, &e.opts)
			if err == nil {
				next = append(next, previous[i])
				st.Edited++
				continue
			}
			if !errors.Is(err, kit.ErrMessageGone) {
				return append(next, previous[i:]...), st, fmt.Errorf("edit message %d in %s: %w", i, to, err)
			}
			st.Replaced++
			e.log.Warn("owned message is gone; reposting", logx.String("channel", to.String()), logx.Int("message_id", previous[i].MessageID))
		}
		ref, err := e.adapter.SendText(ctx, to, text, &e.opts)
		if err != nil {
			if i < len(previous) {
				return append(next, previous[i+1:]...), st, fmt.Errorf("create message %d in %s: %w", i, to, err)
			}
			return next, st, fmt.Errorf("create message %d in %s: %w", i, to, err)
		}
		next = append(next, ref)
		st.Created++
	}

	for _, ref := range previous[min(len(chunks), len(previous)):] {
		if err := e.adapter.DeleteMessage(ctx, ref); err != nil {
			st.DeleteFailed++
			e.log.Warn("delete surplus message failed", logx.String("channel", to.String()), logx.Int("message_id", ref.MessageID), logx.Err(err))
			continue
		}
		st.Deleted++
	}
	return next, st, nil
}
