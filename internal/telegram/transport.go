package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
)

// secretHeader carries the secret_token given to setWebhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateSize bounds a webhook body.
const maxUpdateSize = 1 << 20

// Poller fetches updates with getUpdates and hands them to a Bot.
type Poller struct {
	client  *Client
	bot     *Bot
	timeout int   // long poll seconds
	offset  int64 // last processed update ID + 1
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewPoller creates a poller. timeout is the long poll wait.
func NewPoller(client *Client, bot *Bot, timeout time.Duration) *Poller {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 30
	}
	return &Poller{
		client:  client,
		bot:     bot,
		timeout: secs,
		stopCh:  make(chan struct{}),
		log:     logging.WithComponent("telegram"),
	}
}

// Start begins the long-polling loop in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop ends the loop and waits for in-flight updates.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.bot.Wait()
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	p.log.Debug("poll loop started")
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("poll loop stopped")
			return
		case <-p.stopCh:
			p.log.Debug("poll loop stopped")
			return
		default:
			p.fetchAndProcess(ctx)
		}
	}
}

// fetchAndProcess fetches one batch and dispatches it. Offsets advance
// before handling, so an update that crashes the process is not redelivered
// forever.
func (p *Poller) fetchAndProcess(ctx context.Context) {
	p.mu.Lock()
	offset := p.offset
	p.mu.Unlock()

	updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		wait := time.Second
		if errors.Is(err, ErrConflict) {
			p.log.Error("another instance is polling this bot", slog.Any("error", err))
			wait = 10 * time.Second
		} else {
			p.log.Warn("error fetching updates", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
		case <-p.stopCh:
		case <-time.After(wait):
		}
		return
	}

	for _, update := range updates {
		p.mu.Lock()
		if update.UpdateID >= p.offset {
			p.offset = update.UpdateID + 1
		}
		p.mu.Unlock()

		p.bot.Dispatch(ctx, update)
	}
}

// Offset returns the next update ID to request.
func (p *Poller) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// WebhookHandler accepts webhook deliveries. When secret is set, requests
// without the matching secret header are rejected. Updates are handled
// after the response is written.
func (b *Bot) WebhookHandler(ctx context.Context, secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(secret)) != 1 {
			b.log.Warn("webhook request with bad secret", slog.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var u Update
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		b.Dispatch(ctx, &u)
	})
}
