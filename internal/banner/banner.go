package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/health"
)

// Tagline is the project tagline
const Tagline = "Tu agenda por voz en Telegram"

// PrintCompact prints a compact single-line banner
func PrintCompact(w io.Writer, version string) {
	fmt.Fprintf(w, "📋 Agente v%s - %s\n", version, Tagline)
}

// Startup prints the serve banner with the feature summary of cfg. mode
// names how updates arrive.
func Startup(w io.Writer, version, mode string, cfg *config.Config) {
	report := health.RunChecks(cfg)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "AGENTE v%s │ Telegram Bot\n", version)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	var enabled, warnings []string
	for _, f := range report.Features {
		switch f.Status {
		case health.StatusOK:
			enabled = append(enabled, f.Name)
		case health.StatusWarning:
			warnings = append(warnings, f.Name+"*")
		}
	}

	if len(enabled) > 0 {
		fmt.Fprintf(w, "✓ %s\n", strings.Join(enabled, ", "))
	}
	if len(warnings) > 0 {
		fmt.Fprintf(w, "○ %s\n", strings.Join(warnings, ", "))
		for _, f := range report.Features {
			if f.Status == health.StatusWarning && f.Note != "" {
				fmt.Fprintf(w, "  * %s: %s\n", f.Name, f.Note)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Mode:     %s\n", mode)
	if cfg.Store != nil {
		fmt.Fprintf(w, "Database: %s\n", cfg.Store.Path)
	}
	if cfg.Telegram != nil {
		if n := len(cfg.Telegram.AllowedIDs); n > 0 {
			fmt.Fprintf(w, "Users:    %d allowed\n", n)
		} else {
			fmt.Fprintln(w, "Users:    anyone")
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Listening... (Ctrl+C to stop)")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
}
