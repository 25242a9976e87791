package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmm-1987/agente/internal/logging"
	"github.com/jmm-1987/agente/internal/textnorm"
)

// FileFetcher downloads a voice note from the messaging transport.
type FileFetcher interface {
	Fetch(ctx context.Context, fileRef string) (io.ReadCloser, error)
}

// Ingestor runs the whole voice pipeline for one file.
type Ingestor struct {
	fetcher    FileFetcher
	transcoder Transcoder
	engine     *lazyEngine
	audio      AudioConfig
	decode     DecodeOptions
	log        *slog.Logger
}

// NewIngestor wires an Ingestor. The engine is loaded on first use.
func NewIngestor(fetcher FileFetcher, transcoder Transcoder, load Loader, audio AudioConfig, speech SpeechConfig) *Ingestor {
	return &Ingestor{
		fetcher:    fetcher,
		transcoder: transcoder,
		engine:     newLazyEngine(load, speech.LoadTimeout),
		audio:      audio,
		decode:     speech.DecodeOptions(),
		log:        logging.WithComponent("transcription"),
	}
}

// Ingest fetches fileRef and returns its cleaned transcript.
func (i *Ingestor) Ingest(ctx context.Context, fileRef string) (string, error) {
	if i.fetcher == nil {
		return "", newError(KindFetchFailure, "no file fetcher configured", "", nil)
	}

	src, err := i.fetcher.Fetch(ctx, fileRef)
	if err != nil {
		return "", newError(KindFetchFailure, "could not download the voice note", "try sending it again", err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(i.audio.TempDir, "voice-*.audio")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	inputPath := tmp.Name()
	defer removeTemp(inputPath)

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return "", newError(KindFetchFailure, "could not download the voice note", "try sending it again", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return i.IngestFile(ctx, inputPath)
}

// IngestFile transcribes a local audio file. The file itself is left in
// place; intermediate files are removed.
func (i *Ingestor) IngestFile(ctx context.Context, inputPath string) (string, error) {
	log := logging.WithContext(ctx).With(slog.String("component", "transcription"))
	start := time.Now()

	if err := i.checkDuration(ctx, inputPath); err != nil {
		return "", err
	}

	wav, err := os.CreateTemp(i.audio.TempDir, "voice-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	wavPath := wav.Name()
	_ = wav.Close()
	defer removeTemp(wavPath)

	if err := i.transcoder.ToWav(ctx, inputPath, wavPath); err != nil {
		return "", err
	}

	engine, err := i.engine.get(ctx)
	if err != nil {
		return "", err
	}

	res, err := engine.Transcribe(ctx, wavPath, i.decode)
	if err != nil && ctx.Err() == nil && KindOf(err) != KindModelUnavailable {
		log.Warn("enriched decode failed, retrying with minimal options",
			slog.String("engine", engine.Name()),
			slog.Any("error", err))
		minimal := i.decode
		minimal.Minimal = true
		res, err = engine.Transcribe(ctx, wavPath, minimal)
	}
	if err != nil {
		if KindOf(err) == KindUnknown && ctx.Err() == nil {
			err = newError(KindModelUnavailable, "speech engine failed", "run `agente doctor` to check the speech backend", err)
		}
		return "", err
	}

	text := textnorm.CleanTranscript(res.Text)
	if text == "" {
		return "", newError(KindEmptyTranscript, "no speech detected in the audio", "speak closer to the microphone and try again", nil)
	}

	log.Info("voice note transcribed",
		slog.String("engine", engine.Name()),
		slog.Float64("audio_seconds", res.Duration),
		slog.Int("chars", len(text)),
		slog.Duration("elapsed", time.Since(start)))
	return text, nil
}

// checkDuration rejects audio above the ceiling before any transcoding.
// Without ffprobe the check is skipped.
func (i *Ingestor) checkDuration(ctx context.Context, path string) error {
	d, err := i.transcoder.Probe(ctx, path)
	if errors.Is(err, ErrProbeUnavailable) {
		i.log.Warn("ffprobe unavailable, skipping duration check", slog.Any("error", err))
		return nil
	}
	if err != nil {
		return err
	}
	if i.audio.MaxDuration > 0 && d > i.audio.MaxDuration {
		return newError(KindDurationExceeded,
			fmt.Sprintf("audio too long (%.1fs, max %.0fs)", d.Seconds(), i.audio.MaxDuration.Seconds()),
			"send a shorter voice note", nil)
	}
	return nil
}

// EngineLoaded reports whether the speech engine has been loaded.
func (i *Ingestor) EngineLoaded() bool {
	return i.engine.loaded() != nil
}

// Close stops the engine if it holds a process.
func (i *Ingestor) Close() error {
	if c, ok := i.engine.loaded().(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WithComponent("transcription").Warn("failed to remove temp file",
			slog.String("path", path), slog.Any("error", err))
	}
}
