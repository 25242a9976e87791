// Package health inspects the host and configuration before the bot starts.
package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/transcription"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// ConfigCheck is a check on a configuration value.
type ConfigCheck struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// HealthReport contains all health check results
type HealthReport struct {
	Dependencies []Check
	Config       []ConfigCheck
	Features     []FeatureStatus
	HasErrors    bool
}

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config) *HealthReport {
	audio, speech := pipelineConfig(cfg)
	setup := transcription.CheckSetup(audio, speech)

	report := &HealthReport{
		Dependencies: checkDependencies(setup, audio, speech),
		Config:       checkConfig(cfg),
		Features:     checkFeatures(cfg, setup),
	}
	for _, c := range report.Config {
		if c.Status == StatusError {
			report.HasErrors = true
		}
	}
	for _, c := range report.Dependencies {
		if c.Status == StatusError {
			report.HasErrors = true
		}
	}
	return report
}

func pipelineConfig(cfg *config.Config) (transcription.AudioConfig, transcription.SpeechConfig) {
	audio := transcription.DefaultAudioConfig()
	if cfg.Audio != nil {
		audio = *cfg.Audio
	}
	speech := transcription.DefaultSpeechConfig()
	if cfg.Speech != nil {
		speech = *cfg.Speech
	}
	return audio, speech
}

// checkDependencies reports the external tools behind voice notes. None of
// them is fatal: without them the bot still handles text.
func checkDependencies(setup *transcription.SetupStatus, audio transcription.AudioConfig, speech transcription.SpeechConfig) []Check {
	checks := []Check{}

	missing := func(name string) Check {
		for _, d := range setup.Missing {
			if d.Name == name {
				msg := "not found"
				if d.Required {
					msg = "not found (voice disabled)"
				}
				return Check{Name: name, Status: StatusWarning, Message: msg, Fix: d.InstallCmd}
			}
		}
		return Check{Name: name, Status: StatusWarning, Message: "not found"}
	}

	ffmpeg := orDefault(audio.FFmpegPath, "ffmpeg")
	if setup.FFmpegInstalled {
		checks = append(checks, Check{Name: "ffmpeg", Status: StatusOK, Message: versionOr(ffmpeg, "-version")})
	} else {
		checks = append(checks, missing("ffmpeg"))
	}

	ffprobe := orDefault(audio.FFprobePath, "ffprobe")
	if setup.FFprobeInstalled {
		checks = append(checks, Check{Name: "ffprobe", Status: StatusOK, Message: versionOr(ffprobe, "-version")})
	} else {
		checks = append(checks, missing("ffprobe"))
	}

	if speech.Backend == transcription.BackendWhisperAPI {
		if setup.OpenAIKeySet {
			checks = append(checks, Check{Name: "openai_api_key", Status: StatusOK, Message: "set"})
		} else {
			checks = append(checks, missing("openai_api_key"))
		}
		return checks
	}

	python := orDefault(speech.PythonPath, "python3")
	if !setup.PythonInstalled {
		return append(checks, missing("python3"))
	}
	checks = append(checks, Check{Name: "python3", Status: StatusOK, Message: versionOr(python, "--version")})

	if setup.FasterWhisperInstalled {
		checks = append(checks, Check{Name: "faster-whisper", Status: StatusOK, Message: "installed"})
	} else {
		checks = append(checks, missing("faster-whisper"))
	}
	return checks
}

// checkConfig validates configuration values that block the bot.
func checkConfig(cfg *config.Config) []ConfigCheck {
	checks := []ConfigCheck{}

	if err := cfg.Validate(); err != nil {
		checks = append(checks, ConfigCheck{
			Name:    "config",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "edit " + config.DefaultConfigPath(),
		})
	} else {
		checks = append(checks, ConfigCheck{Name: "config", Status: StatusOK, Message: "valid"})
	}

	tg := cfg.Telegram
	switch {
	case tg == nil || tg.BotToken == "":
		checks = append(checks, ConfigCheck{
			Name:    "telegram",
			Status:  StatusError,
			Message: "bot_token not set",
			Fix:     "set telegram.bot_token or TELEGRAM_BOT_TOKEN",
		})
	default:
		checks = append(checks, ConfigCheck{Name: "telegram", Status: StatusOK, Message: "token set"})
	}

	if tg != nil {
		if len(tg.AllowedIDs) == 0 {
			checks = append(checks, ConfigCheck{
				Name:    "allowed_ids",
				Status:  StatusWarning,
				Message: "bot answers every user",
				Fix:     "set telegram.allowed_ids",
			})
		} else {
			checks = append(checks, ConfigCheck{
				Name:    "allowed_ids",
				Status:  StatusOK,
				Message: fmt.Sprintf("%d allowed", len(tg.AllowedIDs)),
			})
		}

		if tg.WebhookURL != "" {
			switch {
			case !strings.HasPrefix(tg.WebhookURL, "https://"):
				checks = append(checks, ConfigCheck{
					Name:    "webhook",
					Status:  StatusError,
					Message: "webhook_url must use https",
					Fix:     "set telegram.webhook_url to an https URL",
				})
			case tg.WebhookSecret == "":
				checks = append(checks, ConfigCheck{
					Name:    "webhook",
					Status:  StatusWarning,
					Message: "no webhook_secret, requests are not authenticated",
					Fix:     "set telegram.webhook_secret",
				})
			default:
				checks = append(checks, ConfigCheck{Name: "webhook", Status: StatusOK, Message: tg.WebhookURL})
			}
		}
	}

	if cfg.Store != nil && cfg.Store.Path != "" {
		path := expandPath(cfg.Store.Path)
		if err := checkWritableDir(filepath.Dir(path)); err != nil {
			checks = append(checks, ConfigCheck{
				Name:    "database",
				Status:  StatusError,
				Message: err.Error(),
				Fix:     "set store.path to a writable location",
			})
		} else {
			checks = append(checks, ConfigCheck{Name: "database", Status: StatusOK, Message: path})
		}
	}

	if cfg.Images != nil && cfg.Images.Download && cfg.Images.Dir != "" {
		dir := expandPath(cfg.Images.Dir)
		if err := checkWritableDir(dir); err != nil {
			checks = append(checks, ConfigCheck{
				Name:    "images",
				Status:  StatusWarning,
				Message: err.Error(),
				Fix:     "set images.dir to a writable location or images.download to false",
			})
		} else {
			checks = append(checks, ConfigCheck{Name: "images", Status: StatusOK, Message: dir})
		}
	}

	return checks
}

// checkFeatures checks feature availability
func checkFeatures(cfg *config.Config, setup *transcription.SetupStatus) []FeatureStatus {
	features := []FeatureStatus{}

	// Voice transcription
	voice := FeatureStatus{Name: "Voice", Enabled: setup.Ready(), Status: StatusOK, Note: setup.Backend}
	if !voice.Enabled {
		voice.Status = StatusWarning
		for _, d := range setup.Missing {
			if d.Required {
				voice.Note = "no " + d.Name
				break
			}
		}
	}
	features = append(features, voice)

	webhook := cfg.Telegram != nil && cfg.Telegram.WebhookURL != ""
	transport := FeatureStatus{Name: "Webhook", Enabled: webhook, Status: boolToStatus(webhook)}
	if !webhook {
		transport.Note = "long polling"
	}
	features = append(features, transport)

	limited := cfg.Telegram != nil && cfg.Telegram.RateLimit != nil && cfg.Telegram.RateLimit.Enabled
	features = append(features, FeatureStatus{
		Name:    "Rate limit",
		Enabled: limited,
		Status:  boolToStatus(limited),
	})

	photos := cfg.Images != nil && cfg.Images.Download
	photo := FeatureStatus{Name: "Photos", Enabled: photos, Status: boolToStatus(photos)}
	if !photos {
		photo.Note = "file IDs only"
	}
	features = append(features, photo)

	daily := cfg.Briefs != nil && cfg.Briefs.Enabled
	brief := FeatureStatus{Name: "Daily brief", Enabled: daily, Status: boolToStatus(daily)}
	if daily {
		brief.Note = cfg.Briefs.Schedule
	}
	features = append(features, brief)

	return features
}

// checkWritableDir reports whether files can be created in dir. A missing
// dir passes when its nearest existing ancestor is writable.
func checkWritableDir(dir string) error {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("no existing parent for %s", dir)
		}
		dir = parent
	}

	f, err := os.CreateTemp(dir, ".agente-doctor-*")
	if err != nil {
		return fmt.Errorf("%s is not writable", dir)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func versionOr(cmd string, args ...string) string {
	if v := getCommandVersion(cmd, args...); v != "" {
		return v
	}
	return "installed"
}

// getCommandVersion runs a command and returns its version string
func getCommandVersion(cmd string, args ...string) string {
	out, err := exec.Command(cmd, args...).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	// Extract just version number if possible
	if strings.Contains(version, " ") {
		parts := strings.Fields(version)
		for _, p := range parts {
			if strings.Contains(p, ".") {
				return p
			}
		}
	}
	return version
}

// commandExists checks if a command exists in PATH
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

// Summary counts errors and warnings among dependency and config checks.
func (r *HealthReport) Summary() (errors, warnings int) {
	count := func(s Status) {
		switch s {
		case StatusError:
			errors++
		case StatusWarning:
			warnings++
		}
	}
	for _, c := range r.Dependencies {
		count(c.Status)
	}
	for _, c := range r.Config {
		count(c.Status)
	}
	return errors, warnings
}

// ReadyToStart reports whether nothing blocks the bot.
func (r *HealthReport) ReadyToStart() bool {
	errors, _ := r.Summary()
	return errors == 0
}

// StatusSymbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

var (
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#7ec699"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d8a657"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d75f5f"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5c6370"))
)

// ColorSymbol returns Symbol styled for a terminal.
func (s Status) ColorSymbol() string {
	switch s {
	case StatusOK:
		return okStyle.Render(s.Symbol())
	case StatusWarning:
		return warningStyle.Render(s.Symbol())
	case StatusError:
		return errorStyle.Render(s.Symbol())
	case StatusDisabled:
		return disabledStyle.Render(s.Symbol())
	default:
		return s.Symbol()
	}
}
