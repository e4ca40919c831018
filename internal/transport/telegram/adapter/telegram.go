package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "serverwatch/internal/transport"
	logx "serverwatch/pkg/logx"
)

// TextLimit is Telegram's hard limit for a single text message, in UTF-16 code units.
const TextLimit = 4096

// MaxChunkRunes is the largest rune count that always fits TextLimit: a rune
// takes at most two UTF-16 units.
const MaxChunkRunes = TextLimit / 2

type Config struct {
	Token string
	// RatePerSec bounds outbound Bot API calls. 0 uses the default (20/s).
	RatePerSec int
	// APITimeout bounds a single Bot API HTTP call.
	APITimeout time.Duration
}

// Adapter implements kit.Adapter on top of telebot. It never polls for
// updates: the bot only posts, edits and deletes its own messages.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	limiter *rate.Limiter
}

var _ kit.Adapter = (*Adapter)(nil)

// New creates the bot session. tele.NewBot calls getMe, so a bad token fails here.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.APITimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.SetRate(cfg.RatePerSec)
	log.Info("telegram session ready", logx.String("bot", b.Me.Username))
	return a, nil
}

// SetRate swaps the outbound limiter (hot reload).
func (a *Adapter) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = 20
	}
	a.mu.Lock()
	a.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	a.mu.Unlock()
}

func (a *Adapter) wait(ctx context.Context) error {
	a.mu.Lock()
	lim := a.limiter
	a.mu.Unlock()
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

func (a *Adapter) FetchChannel(ctx context.Context, to kit.ChatTarget) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.ChatByID(to.ChatID)
	return err
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(opt, to.ThreadID))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, text, sendOptions(opt, 0))
	if isNotModified(err) {
		// Same text as before: Telegram rejects the edit but the message is current.
		return nil
	}
	return wrapGone(err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return wrapGone(a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}))
}

// Stop releases the session. There is no poller to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.log.Debug("telegram adapter stopped")
	return nil
}

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
}

func isNotModified(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrMessageNotModified) {
		return true
	}
	// telebot only returns its sentinel for the exact description text.
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// goneMarkers are the Bot API descriptions for a message id that no longer
// exists. telebot has no sentinel for the edit case and reports it as a plain
// "telegram: <description> (400)" error.
var goneMarkers = []string{
	"message to edit not found",
	"message to delete not found",
	"message_id_invalid",
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrNotFoundToDelete) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func wrapGone(err error) error {
	if isGone(err) {
		return fmt.Errorf("%w: %v", kit.ErrMessageGone, err)
	}
	return err
}
