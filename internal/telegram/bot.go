// Package telegram connects the conversation machine to the Telegram Bot
// API over long polling or a webhook.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmm-1987/agente/internal/conversation"
	"github.com/jmm-1987/agente/internal/logging"
)

// Config holds Telegram settings.
type Config struct {
	BotToken      string           `yaml:"bot_token"`
	AllowedIDs    []int64          `yaml:"allowed_ids"`
	WebhookURL    string           `yaml:"webhook_url"`
	WebhookSecret string           `yaml:"webhook_secret"`
	ListenAddr    string           `yaml:"listen_addr"`
	PollTimeout   time.Duration    `yaml:"poll_timeout"`
	RateLimit     *RateLimitConfig `yaml:"rate_limit"`
}

// DefaultConfig returns Telegram defaults. Polling is used unless a
// webhook URL is set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8080",
		PollTimeout: 30 * time.Second,
		RateLimit:   DefaultRateLimitConfig(),
	}
}

// Conversation handles the user-facing exchange.
type Conversation interface {
	HandleText(ctx context.Context, u conversation.User, text string) []conversation.Reply
	HandleVoice(ctx context.Context, u conversation.User, fileRef string, duration time.Duration) []conversation.Reply
	HandlePhoto(ctx context.Context, u conversation.User, fileRef string) []conversation.Reply
	HandleCallback(ctx context.Context, u conversation.User, data string) []conversation.Reply
	VoiceNotice() conversation.Reply
}

// Bot turns updates into conversation calls and sends the replies back.
type Bot struct {
	client  *Client
	conv    Conversation
	allowed map[int64]bool
	limiter *RateLimiter
	log     *slog.Logger

	inflight sync.WaitGroup
}

// NewBot creates a Bot. An empty AllowedIDs accepts everyone.
func NewBot(client *Client, conv Conversation, cfg Config) *Bot {
	allowed := make(map[int64]bool, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	var limiter *RateLimiter
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &Bot{
		client:  client,
		conv:    conv,
		allowed: allowed,
		limiter: limiter,
		log:     logging.WithComponent("telegram"),
	}
}

// Dispatch handles u on its own goroutine so a slow voice note does not
// hold up other users.
func (b *Bot) Dispatch(ctx context.Context, u *Update) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.HandleUpdate(ctx, u)
	}()
}

// Wait blocks until every dispatched update is handled.
func (b *Bot) Wait() {
	b.inflight.Wait()
}

// rateLimitIdle is how long a user's bucket survives without traffic. A
// bucket refills completely well before that.
const rateLimitIdle = time.Hour

// PruneRateLimits forgets users idle for longer than an hour.
func (b *Bot) PruneRateLimits() {
	b.limiter.Cleanup(rateLimitIdle)
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u *Update) {
	ctx = logging.ContextWithCorrelationID(ctx, uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("update handler panicked",
				slog.String("component", "telegram"),
				slog.Int64("update_id", u.UpdateID),
				slog.Any("panic", r))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) authorized(userID, chatID int64) bool {
	return len(b.allowed) == 0 || b.allowed[userID] || b.allowed[chatID]
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	user := conversation.User{ID: msg.From.ID, ChatID: msg.Chat.ID, Name: msg.From.DisplayName()}
	ctx = logging.ContextWithUser(ctx, user.ID, user.ChatID)
	log := logging.WithContext(ctx).With(slog.String("component", "telegram"))

	if !b.authorized(user.ID, user.ChatID) {
		log.Debug("ignoring message from unauthorized user")
		return
	}
	if !b.limiter.AllowMessage(user.ID) {
		log.Warn("rate limit exceeded", slog.String("type", "message"))
		b.send(ctx, user.ChatID, []conversation.Reply{{Text: "⚠️ Demasiados mensajes. Espera un momento."}})
		return
	}

	var replies []conversation.Reply
	switch {
	case msg.Voice != nil || msg.Audio != nil:
		voice := msg.Voice
		if voice == nil {
			voice = msg.Audio
		}
		if !b.limiter.AllowVoice(user.ID) {
			log.Warn("rate limit exceeded", slog.String("type", "voice"))
			replies = []conversation.Reply{{Text: "⚠️ Has enviado demasiados audios. Inténtalo más tarde."}}
			break
		}
		log.Debug("voice received", slog.Int("duration", voice.Duration))
		b.send(ctx, user.ChatID, []conversation.Reply{b.conv.VoiceNotice()})
		replies = b.conv.HandleVoice(ctx, user, voice.FileID, time.Duration(voice.Duration)*time.Second)
	case len(msg.Photo) > 0:
		// The last size is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		log.Debug("photo received", slog.Int("width", photo.Width), slog.Int("height", photo.Height))
		replies = b.conv.HandlePhoto(ctx, user, photo.FileID)
	case msg.Text != "":
		replies = b.conv.HandleText(ctx, user, msg.Text)
	default:
		return
	}
	b.send(ctx, user.ChatID, replies)
}

func (b *Bot) handleCallback(ctx context.Context, cq *CallbackQuery) {
	if err := b.client.AnswerCallbackQuery(ctx, cq.ID, ""); err != nil {
		logging.WithContext(ctx).Warn("failed to answer callback",
			slog.String("component", "telegram"), slog.Any("error", err))
	}
	if cq.From == nil {
		return
	}

	chatID := cq.From.ID
	if cq.Message != nil && cq.Message.Chat != nil {
		chatID = cq.Message.Chat.ID
	}
	user := conversation.User{ID: cq.From.ID, ChatID: chatID, Name: cq.From.DisplayName()}
	ctx = logging.ContextWithUser(ctx, user.ID, user.ChatID)

	if !b.authorized(user.ID, chatID) {
		logging.WithContext(ctx).Debug("ignoring callback from unauthorized user", slog.String("component", "telegram"))
		return
	}
	if !b.limiter.AllowMessage(user.ID) {
		return
	}
	b.send(ctx, chatID, b.conv.HandleCallback(ctx, user, cq.Data))
}

// send delivers replies in order. Failures are logged; the rest are still
// attempted.
func (b *Bot) send(ctx context.Context, chatID int64, replies []conversation.Reply) {
	for _, r := range replies {
		if r.Text == "" {
			continue
		}
		req := &SendMessageRequest{ChatID: chatID, Text: r.Text, ReplyMarkup: replyMarkup(r)}
		if _, err := b.client.SendMessage(ctx, req); err != nil {
			logging.WithContext(ctx).Warn("failed to send message",
				slog.String("component", "telegram"), slog.Any("error", err))
		}
	}
}

// replyMarkup renders the options of r as inline buttons. Replies without
// options carry the persistent menu keyboard.
func replyMarkup(r conversation.Reply) any {
	if len(r.Options) == 0 {
		return menuKeyboard()
	}
	cols := r.Columns
	if cols < 1 {
		cols = 1
	}
	var rows [][]InlineKeyboardButton
	for i := 0; i < len(r.Options); i += cols {
		end := min(i+cols, len(r.Options))
		row := make([]InlineKeyboardButton, 0, end-i)
		for _, o := range r.Options[i:end] {
			row = append(row, InlineKeyboardButton{Text: o.Label, CallbackData: o.Data})
		}
		rows = append(rows, row)
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func menuKeyboard() *ReplyKeyboardMarkup {
	rows := make([][]KeyboardButton, len(conversation.MenuButtons))
	for i, label := range conversation.MenuButtons {
		rows[i] = []KeyboardButton{{Text: label}}
	}
	return &ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true, IsPersistent: true}
}

// Validate checks the settings needed to run the bot.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.WebhookURL == "" && c.PollTimeout <= 0 {
		return fmt.Errorf("telegram.poll_timeout must be positive")
	}
	if c.WebhookURL != "" && c.ListenAddr == "" {
		return fmt.Errorf("telegram.listen_addr is required in webhook mode")
	}
	return nil
}
