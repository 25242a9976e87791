package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/jmm-1987/agente/internal/banner"
	"github.com/jmm-1987/agente/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agente",
		Short: "Voice and text task agenda for Telegram",
		Long: `Agente is a Telegram bot that keeps a task agenda. Users dictate or type
commands in Spanish; the bot creates, lists, closes and reschedules tasks,
links them to clients and attaches photos.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.agente/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(),
		newDoctorCmd(),
		newParseCmd(),
		newTranscribeCmd(),
		newClientsCmd(),
		newCategoriesCmd(),
		newTasksCmd(),
		newBriefCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Agente version",
		Run: func(cmd *cobra.Command, args []string) {
			banner.PrintCompact(os.Stdout, version)
			if buildTime != "unknown" {
				fmt.Printf("Built: %s\n", buildTime)
			}
		},
	}
}

// loadConfig loads the file named by --config or the default path.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}
