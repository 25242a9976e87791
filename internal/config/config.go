package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmm-1987/agente/internal/briefs"
	"github.com/jmm-1987/agente/internal/conversation"
	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/resolver"
	"github.com/jmm-1987/agente/internal/store"
	"github.com/jmm-1987/agente/internal/telegram"
	"github.com/jmm-1987/agente/internal/transcription"
)

// Config represents the main configuration
type Config struct {
	Version      string                      `yaml:"version"`
	DataDir      string                      `yaml:"data_dir"`
	Timezone     string                      `yaml:"timezone"`
	Telegram     *telegram.Config            `yaml:"telegram"`
	Store        *store.Config               `yaml:"store"`
	Audio        *transcription.AudioConfig  `yaml:"audio"`
	Speech       *transcription.SpeechConfig `yaml:"speech"`
	Workers      *WorkersConfig              `yaml:"workers"`
	Matching     *resolver.Config            `yaml:"matching"`
	Conversation *ConversationConfig         `yaml:"conversation"`
	Sessions     *conversation.SessionConfig `yaml:"sessions"`
	Images       *ImagesConfig               `yaml:"images"`
	Briefs       *briefs.BriefConfig         `yaml:"briefs"`
	Logging      *logging.Config             `yaml:"logging"`
}

// WorkersConfig bounds voice transcription.
type WorkersConfig struct {
	TranscriptionWorkers int           `yaml:"transcription_workers"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`
}

// ConversationConfig tunes the dialogue.
type ConversationConfig struct {
	ListLimit           int `yaml:"list_limit"`
	TitleMatchThreshold int `yaml:"title_match_threshold"`
}

// ImagesConfig holds task image settings. When Download is off only the
// Telegram file ID is recorded.
type ImagesConfig struct {
	Dir      string `yaml:"dir"`
	Download bool   `yaml:"download"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".agente", "data")

	tg := telegram.DefaultConfig()
	st := store.DefaultConfig(dataDir)
	audio := transcription.DefaultAudioConfig()
	speech := transcription.DefaultSpeechConfig()
	matching := resolver.DefaultConfig()
	sessions := conversation.DefaultSessionConfig()
	conv := conversation.DefaultConfig()

	return &Config{
		Version:  "1.0",
		DataDir:  dataDir,
		Telegram: &tg,
		Store:    &st,
		Audio:    &audio,
		Speech:   &speech,
		Workers: &WorkersConfig{
			TranscriptionWorkers: 1,
			TranscriptionTimeout: conv.TranscriptionTimeout,
		},
		Matching: &matching,
		Conversation: &ConversationConfig{
			ListLimit:           conv.ListLimit,
			TitleMatchThreshold: conv.TitleMatchThreshold,
		},
		Sessions: &sessions,
		Images: &ImagesConfig{
			Dir:      filepath.Join(dataDir, "images"),
			Download: true,
		},
		Briefs:  briefs.DefaultBriefConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the
// defaults. TELEGRAM_BOT_TOKEN and OPENAI_API_KEY fill empty secrets.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		// Expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if config.Telegram != nil && config.Telegram.BotToken == "" {
		config.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if config.Speech != nil && config.Speech.OpenAIAPIKey == "" {
		config.Speech.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Expand paths
	config.DataDir = expandPath(config.DataDir)
	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Images != nil {
		config.Images.Dir = expandPath(config.Images.Dir)
	}
	if config.Audio != nil {
		config.Audio.TempDir = expandPath(config.Audio.TempDir)
	}
	if config.Logging != nil {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

// Save saves configuration to a file. The file may hold secrets, so it is
// only readable by its owner.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".agente", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Location returns the zone task dates are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration. Telegram settings are checked by
// the commands that need them.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Store.Driver {
	case store.DriverModernc, store.DriverMattn:
	default:
		return fmt.Errorf("unknown store.driver %q (want %q or %q)", c.Store.Driver, store.DriverModernc, store.DriverMattn)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout must not be negative")
	}
	if err := c.Store.Retry.Validate(); err != nil {
		return fmt.Errorf("store.retry: %w", err)
	}

	if c.Audio == nil || c.Speech == nil {
		return fmt.Errorf("audio and speech configuration are required")
	}
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	if err := c.Speech.Validate(); err != nil {
		return err
	}

	if c.Workers == nil {
		return fmt.Errorf("workers configuration is required")
	}
	if c.Workers.TranscriptionWorkers < 1 {
		return fmt.Errorf("workers.transcription_workers must be at least 1, got %d", c.Workers.TranscriptionWorkers)
	}
	if c.Workers.TranscriptionTimeout <= 0 {
		return fmt.Errorf("workers.transcription_timeout must be positive")
	}

	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}

	if c.Conversation != nil {
		if t := c.Conversation.TitleMatchThreshold; t < 0 || t > 100 {
			return fmt.Errorf("conversation.title_match_threshold must be within 0-100, got %d", t)
		}
		if c.Conversation.ListLimit < 1 {
			return fmt.Errorf("conversation.list_limit must be at least 1")
		}
	}

	if c.Sessions == nil {
		return fmt.Errorf("sessions configuration is required")
	}
	if err := c.Sessions.Validate(); err != nil {
		return err
	}

	if c.Images != nil && c.Images.Download && c.Images.Dir == "" {
		return fmt.Errorf("images.dir is required when images.download is on")
	}

	if c.Briefs != nil {
		if err := c.Briefs.Validate(); err != nil {
			return err
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// MachineConfig assembles the conversation settings.
func (c *Config) MachineConfig() (conversation.Config, error) {
	mc := conversation.DefaultConfig()
	loc, err := c.Location()
	if err != nil {
		return mc, err
	}
	mc.Location = loc
	if c.Workers != nil {
		mc.TranscriptionTimeout = c.Workers.TranscriptionTimeout
	}
	if c.Audio != nil {
		mc.MaxVoiceDuration = c.Audio.MaxDuration
	}
	if c.Conversation != nil {
		mc.ListLimit = c.Conversation.ListLimit
		mc.TitleMatchThreshold = c.Conversation.TitleMatchThreshold
	}
	return mc, nil
}
