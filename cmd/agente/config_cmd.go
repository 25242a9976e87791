package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmm-1987/agente/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Agente configuration",
		Long: `View, create, and validate Agente configuration.

Configuration File Location:
  Default: ~/.agente/config.yaml
  Override with --config flag

Examples:
  agente config init       # Write the defaults
  agente config show       # View current config
  agente config validate   # Check values
  agente config path       # Show file location`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote %s\n", path)
			fmt.Println("  Set telegram.bot_token (or TELEGRAM_BOT_TOKEN), then run 'agente doctor'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long: `Display the configuration loaded from the config file, with defaults
filled in and secrets from the environment applied.

Secrets are masked unless --secrets is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !showSecrets {
				maskSecrets(cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "secrets", false, "Print tokens and keys unmasked")

	return cmd
}

// maskSecrets replaces set secrets in cfg with a placeholder.
func maskSecrets(cfg *config.Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	if cfg.Telegram != nil {
		mask(&cfg.Telegram.BotToken)
		mask(&cfg.Telegram.WebhookSecret)
	}
	if cfg.Speech != nil {
		mask(&cfg.Speech.OpenAIAPIKey)
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("❌ %w", err)
			}
			if err := cfg.Telegram.Validate(); err != nil {
				return fmt.Errorf("❌ %w", err)
			}
			fmt.Printf("✓ %s is valid\n", configPath())
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	}
}
