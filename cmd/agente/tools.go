package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/parser"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/transcription"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))
)

func newParseCmd() *cobra.Command {
	var (
		noStore    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Show how a message is understood",
		Long: `Classify a message and extract its date, priority, client and title
without touching any task.

Examples:
  agente parse "crea una tarea urgente para Alditraex mañana a las 9"
  agente parse --json "qué tengo pendiente esta semana"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			var clients parser.ClientResolver
			if !noStore {
				st, err := store.Open(*cfg.Store, nil)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				clients = resolver.New(st, resolver.NewIndelScorer(), *cfg.Matching)
			}

			p := parser.New(parser.NewExtractor(parser.WithLocation(loc)), nil, clients)
			parsed, err := p.Parse(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeParseJSON(os.Stdout, parsed)
			}
			printParse(os.Stdout, parsed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStore, "no-store", false, "Skip client lookup in the database")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type parseOutput struct {
	Intent        string          `json:"intent"`
	Date          *time.Time      `json:"date,omitempty"`
	Priority      string          `json:"priority"`
	ClientMention string          `json:"client_mention,omitempty"`
	Title         string          `json:"title"`
	Client        *resolver.Match `json:"client,omitempty"`
}

func writeParseJSON(w io.Writer, c *parser.Command) error {
	out := parseOutput{
		Intent:        string(c.Intent),
		Date:          c.Entities.Date,
		Priority:      string(c.Entities.Priority),
		ClientMention: c.Entities.ClientMention,
		Title:         c.Entities.Title,
		Client:        c.Client,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printParse(w io.Writer, c *parser.Command) {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), valueStyle.Render(value))
	}

	fmt.Fprintln(w, titleStyle.Render(c.OriginalText))
	row("intent", fmt.Sprintf("%s (%s)", c.Intent, c.Intent.Description()))
	if c.Entities.Date != nil {
		row("date", c.Entities.Date.Format("Mon 2006-01-02 15:04"))
	} else {
		row("date", "-")
	}
	row("priority", string(c.Entities.Priority))
	row("title", c.Entities.Title)
	if c.Entities.ClientMention == "" {
		return
	}
	row("mention", c.Entities.ClientMention)
	if c.Client == nil {
		return
	}
	switch c.Client.Action {
	case resolver.ActionAuto:
		row("client", fmt.Sprintf("%s (%d%%)", c.Client.ClientName, c.Client.Confidence))
	case resolver.ActionConfirm:
		names := make([]string, 0, len(c.Client.Candidates))
		for _, cand := range c.Client.Candidates {
			names = append(names, fmt.Sprintf("%s %d%%", cand.Name, cand.Score))
		}
		row("client", "confirm: "+strings.Join(names, ", "))
	default:
		row("client", "no match, would offer to create it")
	}
}

func newTranscribeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a local audio file",
		Long: `Run a local audio file through the voice pipeline used for Telegram
voice notes and print the transcript.

Examples:
  agente transcribe nota.ogg
  agente transcribe --timeout 10m reunion.m4a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Speech.Validate(); err != nil {
				return err
			}

			setup := transcription.CheckSetup(*cfg.Audio, *cfg.Speech)
			if !setup.Ready() {
				fmt.Fprint(os.Stderr, transcription.InstallInstructions(setup))
				return fmt.Errorf("voice transcription is not available")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
			defer cancelTimeout()

			ingestor := transcription.NewIngestor(
				nil,
				transcription.NewFFmpeg(*cfg.Audio),
				transcription.NewLoader(*cfg.Speech),
				*cfg.Audio,
				*cfg.Speech,
			)
			defer func() { _ = ingestor.Close() }()

			text, err := ingestor.IngestFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long, model loading included")

	return cmd
}
