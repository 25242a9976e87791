package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/banner"
	"github.com/jmm-1987/agente/internal/briefs"
	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/conversation"
	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/telegram"
	"github.com/jmm-1987/agente/internal/transcription"
	"github.com/jmm-1987/agente/internal/workerpool"
)

func newServeCmd() *cobra.Command {
	var webhook bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Long: `Run the bot until interrupted.

Updates are received by long polling unless telegram.webhook_url is set
or --webhook is given.

Examples:
  agente serve
  agente serve --config /etc/agente/config.yaml
  TELEGRAM_BOT_TOKEN=123:abc agente serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := cfg.Telegram.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if webhook && cfg.Telegram.WebhookURL == "" {
				return fmt.Errorf("--webhook needs telegram.webhook_url")
			}

			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}
			defer func() { _ = logging.Close() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runBot(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&webhook, "webhook", false, "Require webhook mode")

	return cmd
}

// app holds everything serve starts, in shutdown order.
type app struct {
	store    *store.Store
	sessions *conversation.MemorySessions
	pool     *workerpool.Pool
	ingestor *transcription.Ingestor
	client   *telegram.Client
	bot      *telegram.Bot
	briefs   *briefs.Scheduler
}

// buildApp wires the bot from cfg. The returned app must be closed.
func buildApp(cfg *config.Config, clientOpts ...telegram.ClientOption) (*app, error) {
	mc, err := cfg.MachineConfig()
	if err != nil {
		return nil, err
	}

	var remover store.BlobRemover
	var blobs conversation.Blobs
	if cfg.Images != nil && cfg.Images.Download {
		local, err := store.NewLocalBlobs(cfg.Images.Dir)
		if err != nil {
			return nil, err
		}
		remover, blobs = local, local
	}

	st, err := store.Open(*cfg.Store, remover)
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(cfg.Telegram.BotToken, clientOpts...)

	clients := resolver.New(st, resolver.NewIndelScorer(), *cfg.Matching)
	extractor := parser.NewExtractor(parser.WithLocation(mc.Location))
	commands := parser.New(extractor, nil, clients)

	sessions := conversation.NewMemorySessions(*cfg.Sessions)

	pool := workerpool.New(cfg.Workers.TranscriptionWorkers)
	ingestor := transcription.NewIngestor(
		client,
		transcription.NewFFmpeg(*cfg.Audio),
		transcription.NewLoader(*cfg.Speech),
		*cfg.Audio,
		*cfg.Speech,
	)

	machine := conversation.New(conversation.Deps{
		Store:    st,
		Parser:   commands,
		Sessions: sessions,
		Voice:    ingestor,
		Pool:     pool,
		Files:    client,
		Blobs:    blobs,
	}, mc)
	bot := telegram.NewBot(client, machine, *cfg.Telegram)

	// Idle rate limit buckets go with expired sessions.
	sessions.OnSweep(bot.PruneRateLimits)
	if err := sessions.Start(); err != nil {
		pool.Close()
		_ = ingestor.Close()
		_ = st.Close()
		return nil, err
	}

	return &app{
		store:    st,
		sessions: sessions,
		pool:     pool,
		ingestor: ingestor,
		client:   client,
		bot:      bot,
		briefs:   newBriefScheduler(cfg, st, client, mc.Location),
	}, nil
}

// newBriefScheduler wires the morning agenda to the store and a sender.
func newBriefScheduler(cfg *config.Config, tasks briefs.TaskLister, sender briefs.Sender, loc *time.Location) *briefs.Scheduler {
	bc := cfg.Briefs
	if bc == nil {
		bc = briefs.DefaultBriefConfig()
	}
	generator := briefs.NewGenerator(tasks, bc, loc)
	delivery := briefs.NewDeliveryService(bc, sender, briefs.WithFormatter(briefs.NewPlainTextFormatter(loc)))
	return briefs.NewScheduler(generator, delivery, bc, loc)
}

func (a *app) Close() error {
	a.briefs.Stop()
	a.sessions.Stop()
	a.pool.Close()
	err := a.ingestor.Close()
	return errors.Join(err, a.store.Close())
}

func runBot(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("serve")

	if setup := transcription.CheckSetup(*cfg.Audio, *cfg.Speech); !setup.Ready() {
		log.Warn("voice transcription unavailable, run 'agente doctor'")
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown", slog.Any("error", err))
		}
	}()

	log.Info("agente starting",
		slog.String("version", version),
		slog.String("db", a.store.Path()),
		slog.String("speech", cfg.Speech.Backend))

	if err := a.briefs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start brief scheduler: %w", err)
	}

	if cfg.Telegram.WebhookURL != "" {
		banner.Startup(os.Stdout, version, "webhook "+cfg.Telegram.WebhookURL, cfg)
		return serveWebhook(ctx, a, cfg.Telegram)
	}
	banner.Startup(os.Stdout, version, "long polling", cfg)
	return servePolling(ctx, a, cfg.Telegram)
}

func servePolling(ctx context.Context, a *app, tg *telegram.Config) error {
	log := logging.WithComponent("serve")

	// getUpdates is refused while a webhook is registered.
	if err := a.client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if err := a.client.CheckSingleton(ctx); err != nil {
		return err
	}

	poller := telegram.NewPoller(a.client, a.bot, tg.PollTimeout)
	poller.Start(ctx)
	log.Info("polling for updates")

	<-ctx.Done()
	log.Info("shutting down")
	poller.Stop()
	return nil
}

func serveWebhook(ctx context.Context, a *app, tg *telegram.Config) error {
	log := logging.WithComponent("serve")

	path := webhookPath(tg.WebhookURL)
	mux := http.NewServeMux()
	mux.Handle(path, a.bot.WebhookHandler(ctx, tg.WebhookSecret))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         tg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if err := a.client.SetWebhook(ctx, tg.WebhookURL, tg.WebhookSecret); err != nil {
		_ = server.Close()
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	log.Info("webhook listening", slog.String("addr", tg.ListenAddr), slog.String("path", path))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	a.bot.Wait()
	return err
}

// webhookPath is the path part of the public webhook URL.
func webhookPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/webhook"
	}
	return u.Path
}
