package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/health"
	"github.com/jmm-1987/agente/internal/transcription"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and configuration",
		Long: `Run health checks on voice dependencies, configuration, and features.

Shows what's working, what's missing, and how to fix issues.

Examples:
  agente doctor           # Run all checks
  agente doctor --verbose # Show detailed output`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			}

			report := health.RunChecks(cfg)
			printReport(os.Stdout, report, verbose)

			if verbose {
				audio, speech := transcription.DefaultAudioConfig(), transcription.DefaultSpeechConfig()
				if cfg.Audio != nil {
					audio = *cfg.Audio
				}
				if cfg.Speech != nil {
					speech = *cfg.Speech
				}
				if setup := transcription.CheckSetup(audio, speech); !setup.Ready() {
					fmt.Println(transcription.InstallInstructions(setup))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed output with fix suggestions")

	return cmd
}

func printReport(w io.Writer, report *health.HealthReport, verbose bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Agente Health Check")
	fmt.Fprintln(w, "===================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Voice Dependencies:")
	for _, d := range report.Dependencies {
		fmt.Fprintf(w, "  %s %-16s %s\n", d.Status.ColorSymbol(), d.Name, d.Message)
		if verbose && d.Fix != "" && d.Status != health.StatusOK {
			fmt.Fprintf(w, "                     → %s\n", d.Fix)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	for _, c := range report.Config {
		fmt.Fprintf(w, "  %s %-16s %s\n", c.Status.ColorSymbol(), c.Name, c.Message)
		if verbose && c.Fix != "" && c.Status != health.StatusOK {
			fmt.Fprintf(w, "                     → %s\n", c.Fix)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Features Status:")
	for _, f := range report.Features {
		note := ""
		if f.Note != "" {
			note = " (" + f.Note + ")"
		}
		fmt.Fprintf(w, "  %s %-16s%s\n", f.Status.ColorSymbol(), f.Name, note)
	}
	fmt.Fprintln(w)

	errors, warnings := report.Summary()
	if recs := recommendations(report, 5); len(recs) > 0 {
		fmt.Fprintln(w, "Recommendations:")
		for i, r := range recs {
			fmt.Fprintf(w, "  %d. %s\n", i+1, r)
		}
		fmt.Fprintln(w)
	}

	if report.ReadyToStart() {
		if warnings == 0 {
			fmt.Fprintln(w, "✅ All systems operational!")
		} else {
			fmt.Fprintf(w, "✅ Ready to start (%d warning(s))\n", warnings)
		}
	} else {
		fmt.Fprintf(w, "❌ Not ready - %d critical error(s)\n", errors)
		fmt.Fprintln(w, "   Fix the errors above before running 'agente serve'")
	}
	fmt.Fprintln(w)
}

// recommendations lists up to max fixes, errors first.
func recommendations(report *health.HealthReport, max int) []string {
	var recs []string
	for _, want := range []health.Status{health.StatusError, health.StatusWarning} {
		for _, d := range report.Dependencies {
			if d.Status == want && d.Fix != "" && len(recs) < max {
				recs = append(recs, d.Name+": "+d.Fix)
			}
		}
		for _, c := range report.Config {
			if c.Status == want && c.Fix != "" && len(recs) < max {
				recs = append(recs, c.Name+": "+c.Fix)
			}
		}
	}
	return recs
}
