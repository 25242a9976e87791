package health

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmm-1987/agente/internal/config"
	"github.com/jmm-1987/agente/internal/testutil"
	"github.com/jmm-1987/agente/internal/transcription"
)

// ---------------------------------------------------------------------------
// Status type tests
// ---------------------------------------------------------------------------

func TestStatusSymbol(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "✓"},
		{StatusWarning, "○"},
		{StatusError, "✗"},
		{StatusDisabled, "·"},
		{Status(99), "?"},
	}
	for _, tt := range tests {
		if got := tt.status.Symbol(); got != tt.want {
			t.Errorf("Status(%d).Symbol() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusWarning, "warning"},
		{StatusError, "error"},
		{StatusDisabled, "disabled"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusColorSymbol(t *testing.T) {
	// Colors depend on the terminal; the symbol is always there.
	for _, s := range []Status{StatusOK, StatusWarning, StatusError, StatusDisabled, Status(99)} {
		cs := s.ColorSymbol()
		if !strings.Contains(cs, s.Symbol()) {
			t.Errorf("Status(%d).ColorSymbol() = %q, want it to contain %q", s, cs, s.Symbol())
		}
	}
}

func TestBoolToStatus(t *testing.T) {
	if got := boolToStatus(true); got != StatusOK {
		t.Errorf("boolToStatus(true) = %v, want StatusOK", got)
	}
	if got := boolToStatus(false); got != StatusDisabled {
		t.Errorf("boolToStatus(false) = %v, want StatusDisabled", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"tilde prefix", "~/agenda", filepath.Join(home, "agenda")},
		{"tilde only", "~", filepath.Join(home)},
		{"absolute", "/usr/local/bin", "/usr/local/bin"},
		{"relative", "foo/bar", "foo/bar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.path); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// HealthReport
// ---------------------------------------------------------------------------

func TestHealthReportSummary(t *testing.T) {
	report := &HealthReport{
		Dependencies: []Check{
			{Name: "ffmpeg", Status: StatusOK},
			{Name: "python3", Status: StatusError},
			{Name: "ffprobe", Status: StatusWarning},
		},
		Config: []ConfigCheck{
			{Name: "config", Status: StatusOK},
			{Name: "telegram", Status: StatusError},
			{Name: "allowed_ids", Status: StatusWarning},
		},
	}

	errors, warnings := report.Summary()
	if errors != 2 {
		t.Errorf("Summary() errors = %d, want 2", errors)
	}
	if warnings != 2 {
		t.Errorf("Summary() warnings = %d, want 2", warnings)
	}
}

func TestHealthReportSummaryClean(t *testing.T) {
	report := &HealthReport{
		Dependencies: []Check{{Name: "ffmpeg", Status: StatusOK}},
		Config:       []ConfigCheck{{Name: "config", Status: StatusOK}},
	}

	errors, warnings := report.Summary()
	if errors != 0 || warnings != 0 {
		t.Errorf("Summary() = (%d, %d), want (0, 0)", errors, warnings)
	}
}

func TestReadyToStart(t *testing.T) {
	tests := []struct {
		name   string
		deps   []Check
		config []ConfigCheck
		want   bool
	}{
		{
			name: "all ok",
			deps: []Check{{Name: "ffmpeg", Status: StatusOK}},
			config: []ConfigCheck{
				{Name: "telegram", Status: StatusOK},
			},
			want: true,
		},
		{
			name:   "missing voice tools only warn",
			deps:   []Check{{Name: "ffmpeg", Status: StatusWarning}},
			config: []ConfigCheck{{Name: "telegram", Status: StatusOK}},
			want:   true,
		},
		{
			name:   "no token",
			deps:   []Check{{Name: "ffmpeg", Status: StatusOK}},
			config: []ConfigCheck{{Name: "telegram", Status: StatusError}},
			want:   false,
		},
		{
			name: "empty",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &HealthReport{Dependencies: tt.deps, Config: tt.config}
			if got := report.ReadyToStart(); got != tt.want {
				t.Errorf("ReadyToStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// checkConfig
// ---------------------------------------------------------------------------

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Store.Path = filepath.Join(dir, "tareas.db")
	cfg.Images.Dir = filepath.Join(dir, "images")
	cfg.Telegram.BotToken = testutil.FakeTelegramBotToken
	cfg.Telegram.AllowedIDs = []int64{42}
	return cfg
}

func TestCheckConfig_Valid(t *testing.T) {
	checks := checkConfig(testConfig(t))

	for _, c := range checks {
		if c.Status != StatusOK {
			t.Errorf("check %q = %v (%s), want ok", c.Name, c.Status, c.Message)
		}
	}
	for _, name := range []string{"config", "telegram", "allowed_ids", "database", "images"} {
		if findConfigCheck(checks, name) == nil {
			t.Errorf("expected %q check", name)
		}
	}
	if findConfigCheck(checks, "webhook") != nil {
		t.Error("webhook check should be absent in polling mode")
	}
}

func TestCheckConfig_Table(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *config.Config)
		check  string
		want   Status
	}{
		{
			name:   "no token",
			modify: func(c *config.Config) { c.Telegram.BotToken = "" },
			check:  "telegram",
			want:   StatusError,
		},
		{
			name:   "open bot",
			modify: func(c *config.Config) { c.Telegram.AllowedIDs = nil },
			check:  "allowed_ids",
			want:   StatusWarning,
		},
		{
			name:   "invalid config",
			modify: func(c *config.Config) { c.Workers.TranscriptionWorkers = 0 },
			check:  "config",
			want:   StatusError,
		},
		{
			name:   "webhook without secret",
			modify: func(c *config.Config) { c.Telegram.WebhookURL = "https://bot.example.com/hook" },
			check:  "webhook",
			want:   StatusWarning,
		},
		{
			name: "webhook with secret",
			modify: func(c *config.Config) {
				c.Telegram.WebhookURL = "https://bot.example.com/hook"
				c.Telegram.WebhookSecret = testutil.FakeWebhookSecret
			},
			check: "webhook",
			want:  StatusOK,
		},
		{
			name:   "plain http webhook",
			modify: func(c *config.Config) { c.Telegram.WebhookURL = "http://bot.example.com/hook" },
			check:  "webhook",
			want:   StatusError,
		},
		{
			name: "database under a file",
			modify: func(c *config.Config) {
				file := filepath.Join(c.DataDir, "plain")
				_ = os.WriteFile(file, nil, 0644)
				c.Store.Path = filepath.Join(file, "tareas.db")
			},
			check: "database",
			want:  StatusError,
		},
		{
			name:   "database in a missing dir",
			modify: func(c *config.Config) { c.Store.Path = filepath.Join(c.DataDir, "a", "b", "tareas.db") },
			check:  "database",
			want:   StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(cfg)
			got := findConfigCheck(checkConfig(cfg), tt.check)
			if got == nil {
				t.Fatalf("expected %q check", tt.check)
			}
			if got.Status != tt.want {
				t.Errorf("%s status = %v (%s), want %v", tt.check, got.Status, got.Message, tt.want)
			}
			if got.Status != StatusOK && got.Status != StatusDisabled && got.Fix == "" {
				t.Errorf("%s has no fix", tt.check)
			}
		})
	}
}

func TestCheckConfig_ImagesSkippedWithoutDownload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Images.Download = false

	if findConfigCheck(checkConfig(cfg), "images") != nil {
		t.Error("images check should be absent when photos are not downloaded")
	}
}

func TestCheckConfig_EmptyConfig(t *testing.T) {
	checks := checkConfig(&config.Config{})

	if c := findConfigCheck(checks, "config"); c == nil || c.Status != StatusError {
		t.Errorf("config check = %+v, want error", c)
	}
	if c := findConfigCheck(checks, "telegram"); c == nil || c.Status != StatusError {
		t.Errorf("telegram check = %+v, want error", c)
	}
}

// ---------------------------------------------------------------------------
// checkFeatures
// ---------------------------------------------------------------------------

func TestCheckFeatures(t *testing.T) {
	cfg := testConfig(t)
	ready := &transcription.SetupStatus{
		FFmpegInstalled:        true,
		PythonInstalled:        true,
		FasterWhisperInstalled: true,
		Backend:                transcription.BackendFasterWhisper,
	}

	features := checkFeatures(cfg, ready)

	voice := findFeature(features, "Voice")
	if voice == nil || !voice.Enabled || voice.Status != StatusOK {
		t.Errorf("Voice = %+v, want enabled", voice)
	}
	if webhook := findFeature(features, "Webhook"); webhook == nil || webhook.Enabled || webhook.Note != "long polling" {
		t.Errorf("Webhook = %+v, want disabled with polling note", webhook)
	}
	if rl := findFeature(features, "Rate limit"); rl == nil || !rl.Enabled {
		t.Errorf("Rate limit = %+v, want enabled", rl)
	}
	if photos := findFeature(features, "Photos"); photos == nil || !photos.Enabled {
		t.Errorf("Photos = %+v, want enabled", photos)
	}
	if brief := findFeature(features, "Daily brief"); brief == nil || brief.Enabled || brief.Status != StatusDisabled {
		t.Errorf("Daily brief = %+v, want disabled", brief)
	}

	cfg.Briefs.Enabled = true
	brief := findFeature(checkFeatures(cfg, ready), "Daily brief")
	if brief == nil || !brief.Enabled || brief.Note != "0 8 * * 1-5" {
		t.Errorf("Daily brief = %+v, want enabled with its schedule", brief)
	}
}

func TestCheckFeatures_VoiceMissingFFmpeg(t *testing.T) {
	setup := &transcription.SetupStatus{
		Backend: transcription.BackendFasterWhisper,
		Missing: []transcription.Dependency{{Name: "ffmpeg", Required: true}},
	}

	voice := findFeature(checkFeatures(testConfig(t), setup), "Voice")
	if voice == nil {
		t.Fatal("expected Voice feature")
	}
	if voice.Enabled || voice.Status != StatusWarning {
		t.Errorf("Voice = %+v, want warning", voice)
	}
	if voice.Note != "no ffmpeg" {
		t.Errorf("Voice.Note = %q, want %q", voice.Note, "no ffmpeg")
	}
}

func TestCheckFeatures_EmptyConfig(t *testing.T) {
	features := checkFeatures(&config.Config{}, &transcription.SetupStatus{})

	for _, name := range []string{"Webhook", "Rate limit", "Photos", "Daily brief"} {
		f := findFeature(features, name)
		if f == nil {
			t.Fatalf("expected %q feature", name)
		}
		if f.Enabled {
			t.Errorf("%s should be disabled with empty config", name)
		}
	}
}

// ---------------------------------------------------------------------------
// checkDependencies
// ---------------------------------------------------------------------------

func TestCheckDependencies_MissingTools(t *testing.T) {
	setup := &transcription.SetupStatus{
		Backend: transcription.BackendFasterWhisper,
		Missing: []transcription.Dependency{
			{Name: "ffmpeg", Required: true, InstallCmd: "apt install ffmpeg"},
			{Name: "ffprobe", InstallCmd: "apt install ffmpeg"},
			{Name: "python3", Required: true, InstallCmd: "apt install python3"},
		},
	}

	deps := checkDependencies(setup, transcription.DefaultAudioConfig(), transcription.DefaultSpeechConfig())

	ffmpeg := findCheck(deps, "ffmpeg")
	if ffmpeg == nil {
		t.Fatal("expected ffmpeg check")
	}
	if ffmpeg.Status != StatusWarning || ffmpeg.Message != "not found (voice disabled)" {
		t.Errorf("ffmpeg = %+v, want warning with voice disabled", ffmpeg)
	}
	if ffmpeg.Fix != "apt install ffmpeg" {
		t.Errorf("ffmpeg.Fix = %q, want install command", ffmpeg.Fix)
	}
	if ffprobe := findCheck(deps, "ffprobe"); ffprobe == nil || ffprobe.Message != "not found" {
		t.Errorf("ffprobe = %+v, want plain not found", ffprobe)
	}
	if findCheck(deps, "faster-whisper") != nil {
		t.Error("faster-whisper should not be reported without python")
	}
}

func TestCheckDependencies_WhisperAPI(t *testing.T) {
	speech := transcription.DefaultSpeechConfig()
	speech.Backend = transcription.BackendWhisperAPI
	setup := &transcription.SetupStatus{
		FFmpegInstalled:  true,
		FFprobeInstalled: true,
		OpenAIKeySet:     true,
		Backend:          speech.Backend,
	}
	audio := transcription.DefaultAudioConfig()
	audio.FFmpegPath = "nonexistent_command_xyz"
	audio.FFprobePath = "nonexistent_command_xyz"

	deps := checkDependencies(setup, audio, speech)

	if key := findCheck(deps, "openai_api_key"); key == nil || key.Status != StatusOK {
		t.Errorf("openai_api_key = %+v, want ok", key)
	}
	if findCheck(deps, "python3") != nil {
		t.Error("python3 should not be checked for the API backend")
	}
	if ffmpeg := findCheck(deps, "ffmpeg"); ffmpeg == nil || ffmpeg.Message != "installed" {
		t.Errorf("ffmpeg = %+v, want installed fallback", ffmpeg)
	}
}

func TestRunChecks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.BotToken = ""

	report := RunChecks(cfg)

	if report == nil {
		t.Fatal("RunChecks returned nil")
	}
	if findCheck(report.Dependencies, "ffmpeg") == nil {
		t.Error("expected ffmpeg dependency check")
	}
	if len(report.Features) == 0 {
		t.Error("expected at least one feature check")
	}
	if !report.HasErrors {
		t.Error("HasErrors should be true without a bot token")
	}
	if report.ReadyToStart() {
		t.Error("ReadyToStart should be false without a bot token")
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestCheckWritableDir(t *testing.T) {
	dir := t.TempDir()
	if err := checkWritableDir(dir); err != nil {
		t.Errorf("checkWritableDir(%q) = %v, want nil", dir, err)
	}
	if err := checkWritableDir(filepath.Join(dir, "new", "nested")); err != nil {
		t.Errorf("checkWritableDir(missing) = %v, want nil", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("checkWritableDir left %d files behind", len(entries))
	}
}

func TestGetCommandVersion_InvalidCommand(t *testing.T) {
	version := getCommandVersion("nonexistent_command_xyz", "--version")
	if version != "" {
		t.Errorf("expected empty string for nonexistent command, got %q", version)
	}
}

func TestCommandExists(t *testing.T) {
	if commandExists("nonexistent_command_xyz_123") {
		t.Error("expected false for nonexistent command")
	}
}

func findCheck(checks []Check, name string) *Check {
	for i := range checks {
		if checks[i].Name == name {
			return &checks[i]
		}
	}
	return nil
}

func findConfigCheck(checks []ConfigCheck, name string) *ConfigCheck {
	for i := range checks {
		if checks[i].Name == name {
			return &checks[i]
		}
	}
	return nil
}

func findFeature(features []FeatureStatus, name string) *FeatureStatus {
	for i := range features {
		if features[i].Name == name {
			return &features[i]
		}
	}
	return nil
}
