// Package transcription turns a voice note into plain text: fetch, probe,
// transcode to 16 kHz mono WAV, run the speech engine and clean the result.
package transcription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Speech backends.
const (
	BackendFasterWhisper = "faster-whisper"
	BackendWhisperAPI    = "whisper-api"
)

// DefaultInitialPrompt primes the engine for the vocabulary of the domain.
const DefaultInitialPrompt = "Esta es una conversación en español sobre tareas y clientes."

// Result is the output of one engine run.
type Result struct {
	Text     string  // Concatenated segment text
	Language string  // Detected language (ISO 639-1 code)
	Duration float64 // Audio duration in seconds
}

// DecodeOptions are the decode parameters passed to the engine. Minimal
// drops everything but language, beam size and temperature.
type DecodeOptions struct {
	Language        string
	BeamSize        int
	Temperature     float64
	InitialPrompt   string
	VADMinSilenceMS int
	Minimal         bool
}

// Engine is a loaded speech-to-text model.
type Engine interface {
	// Transcribe converts a 16 kHz mono WAV file to text.
	Transcribe(ctx context.Context, wavPath string, opts DecodeOptions) (*Result, error)

	// Name returns the backend name.
	Name() string
}

// Loader loads an Engine. It may be slow.
type Loader func(ctx context.Context) (Engine, error)

// AudioConfig holds the transcoder settings.
type AudioConfig struct {
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	FFprobePath      string        `yaml:"ffprobe_path"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	SampleRate       int           `yaml:"sample_rate"`
	FilterChain      string        `yaml:"filter_chain"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	TempDir          string        `yaml:"temp_dir"`
}

// SpeechConfig holds the engine settings.
type SpeechConfig struct {
	Backend         string        `yaml:"backend"` // "faster-whisper" or "whisper-api"
	PythonPath      string        `yaml:"python_path"`
	Model           string        `yaml:"model"`
	Device          string        `yaml:"device"`
	ComputeType     string        `yaml:"compute_type"`
	Language        string        `yaml:"language"`
	BeamSize        int           `yaml:"beam_size"`
	Temperature     float64       `yaml:"temperature"`
	InitialPrompt   string        `yaml:"initial_prompt"`
	VADMinSilenceMS int           `yaml:"vad_min_silence_ms"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
}

// DefaultAudioConfig returns the production transcoder settings.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		MaxDuration:      300 * time.Second,
		SampleRate:       16000,
		FilterChain:      "highpass=f=80,acompressor=threshold=0.089:ratio=9:attack=200:release=1000",
		TranscodeTimeout: 30 * time.Second,
		ProbeTimeout:     10 * time.Second,
	}
}

// DefaultSpeechConfig returns the production engine settings.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		Backend:         BackendFasterWhisper,
		Model:           "small",
		Device:          "cpu",
		ComputeType:     "int8",
		Language:        "es",
		BeamSize:        5,
		Temperature:     0,
		InitialPrompt:   DefaultInitialPrompt,
		VADMinSilenceMS: 500,
		LoadTimeout:     5 * time.Minute,
	}
}

// Validate checks the audio settings.
func (c AudioConfig) Validate() error {
	if c.MaxDuration <= 0 {
		return fmt.Errorf("audio.max_duration must be positive")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.TranscodeTimeout <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("audio timeouts must be positive")
	}
	return nil
}

// Validate checks the engine settings.
func (c SpeechConfig) Validate() error {
	switch c.Backend {
	case BackendFasterWhisper:
	case BackendWhisperAPI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("speech.openai_api_key is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown speech backend %q (want %q or %q)", c.Backend, BackendFasterWhisper, BackendWhisperAPI)
	}
	if c.Language == "" {
		return fmt.Errorf("speech.language is required")
	}
	if c.BeamSize < 1 {
		return fmt.Errorf("speech.beam_size must be at least 1")
	}
	return nil
}

// DecodeOptions returns the enriched decode parameters of c.
func (c SpeechConfig) DecodeOptions() DecodeOptions {
	return DecodeOptions{
		Language:        c.Language,
		BeamSize:        c.BeamSize,
		Temperature:     c.Temperature,
		InitialPrompt:   c.InitialPrompt,
		VADMinSilenceMS: c.VADMinSilenceMS,
	}
}

// NewLoader returns the Loader for the configured backend.
func NewLoader(cfg SpeechConfig) Loader {
	return func(ctx context.Context) (Engine, error) {
		switch cfg.Backend {
		case BackendWhisperAPI:
			if cfg.OpenAIAPIKey == "" {
				return nil, newError(KindModelUnavailable, "OpenAI API key not configured",
					"set speech.openai_api_key in the config", nil)
			}
			return NewWhisperAPI(cfg.OpenAIAPIKey), nil
		case BackendFasterWhisper, "":
			return StartFasterWhisper(ctx, cfg)
		default:
			return nil, newError(KindModelUnavailable, fmt.Sprintf("unknown speech backend %q", cfg.Backend),
				"set speech.backend to faster-whisper or whisper-api", nil)
		}
	}
}

// lazyEngine loads the engine on first use and keeps it for the life of
// the process. A failed load is not cached.
type lazyEngine struct {
	load    Loader
	timeout time.Duration

	mu     sync.Mutex
	engine atomic.Pointer[loadedEngine]
	loads  atomic.Int32
}

type loadedEngine struct {
	Engine
}

func newLazyEngine(load Loader, timeout time.Duration) *lazyEngine {
	return &lazyEngine{load: load, timeout: timeout}
}

// get returns the engine, loading it if needed.
func (l *lazyEngine) get(ctx context.Context) (Engine, error) {
	if e := l.engine.Load(); e != nil {
		return e.Engine, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.engine.Load(); e != nil {
		return e.Engine, nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	l.loads.Add(1)
	e, err := l.load(ctx)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = newError(KindModelUnavailable, "speech engine failed to load",
				"run `agente doctor` to check the speech backend", err)
		}
		return nil, err
	}
	l.engine.Store(&loadedEngine{e})
	return e, nil
}

// loaded returns the engine if it has been loaded.
func (l *lazyEngine) loaded() Engine {
	if e := l.engine.Load(); e != nil {
		return e.Engine
	}
	return nil
}
