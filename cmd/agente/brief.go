package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/briefs"
	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/telegram"
)

func newBriefCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "brief",
		Short: "Send today's agenda now",
		Long: `Build the morning agenda of every user with open tasks and send it
through Telegram, as the scheduled brief does.

Examples:
  agente brief --dry-run   # Print the messages instead of sending them
  agente brief`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			if cfg.Briefs != nil {
				if err := cfg.Briefs.Validate(); err != nil {
					return err
				}
			}

			var sender briefs.Sender = &printSender{w: os.Stdout}
			if !dryRun {
				if err := cfg.Telegram.Validate(); err != nil {
					return err
				}
				sender = telegram.NewClient(cfg.Telegram.BotToken)
			}

			st, err := store.Open(*cfg.Store, nil)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			results, err := newBriefScheduler(cfg, st, sender, loc).RunNow(cmd.Context())
			if err != nil {
				return err
			}
			return reportBriefs(os.Stderr, results)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the agendas instead of sending them")

	return cmd
}

// printSender writes messages instead of sending them.
type printSender struct {
	w    io.Writer
	sent int64
}

func (p *printSender) SendText(_ context.Context, chatID int64, text string) (int64, error) {
	p.sent++
	fmt.Fprintf(p.w, "--- chat %d ---\n%s\n", chatID, text)
	return p.sent, nil
}

// reportBriefs summarizes delivery and fails if any brief was not sent.
func reportBriefs(w io.Writer, results []briefs.DeliveryResult) error {
	for _, r := range results {
		if r.Error != nil {
			logging.Error("brief delivery failed", "owner_id", r.OwnerID, "error", r.Error)
		}
	}
	t := briefs.TallyResults(results)
	fmt.Fprintf(w, "%d sent, %d skipped, %d failed\n", t.Sent, t.Skipped, t.Failed)
	if t.Failed > 0 {
		return fmt.Errorf("%d brief(s) could not be delivered", t.Failed)
	}
	return nil
}
