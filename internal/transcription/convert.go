package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const ffmpegRemediation = "install ffmpeg (https://ffmpeg.org/download.html) or set audio.ffmpeg_path"

// ErrProbeUnavailable means ffprobe could not be run at all. The duration
// gate is skipped in that case.
var ErrProbeUnavailable = errors.New("ffprobe not available")

// Transcoder measures and converts audio files.
type Transcoder interface {
	// Probe returns the duration of the audio file.
	Probe(ctx context.Context, path string) (time.Duration, error)
	// ToWav writes a mono WAV at the configured sample rate.
	ToWav(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg is the Transcoder backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	cfg AudioConfig
}

// NewFFmpeg returns an FFmpeg transcoder. Empty binary paths default to the
// names on PATH.
func NewFFmpeg(cfg AudioConfig) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &FFmpeg{cfg: cfg}
}

// Probe implements Transcoder.
func (f *FFmpeg) Probe(ctx context.Context, path string) (time.Duration, error) {
	if f.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if isMissingBinary(err) || ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", ErrProbeUnavailable, err)
		}
		return 0, &Error{
			Kind:        KindUnsupportedFormat,
			Message:     "audio format not recognized",
			Remediation: "send a voice note or an ogg, mp3, m4a or wav file",
			Stderr:      strings.TrimSpace(stderr.String()),
			Err:         err,
		}
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, newError(KindUnsupportedFormat, "audio has no readable duration",
			"send a voice note or an ogg, mp3, m4a or wav file", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ToWav implements Transcoder. It tries the enhancement filter chain first
// and falls back to a plain conversion.
func (f *FFmpeg) ToWav(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return newError(KindTranscodeFailure, "input file does not exist", "", err)
	}

	var firstErr error
	if f.cfg.FilterChain != "" {
		err := f.run(ctx, f.args(inputPath, outputPath, true))
		if err == nil {
			return checkOutput(outputPath)
		}
		if isMissingBinary(err) {
			return err
		}
		firstErr = err
	}

	if err := f.run(ctx, f.args(inputPath, outputPath, false)); err != nil {
		if firstErr != nil {
			err = fmt.Errorf("%w (filtered attempt: %v)", err, firstErr)
		}
		return err
	}
	return checkOutput(outputPath)
}

// args builds the ffmpeg command line:
// -ar: sample rate, -ac 1: mono, -af: filter chain, -f wav: container,
// -y: overwrite output.
func (f *FFmpeg) args(inputPath, outputPath string, filtered bool) []string {
	args := []string{"-i", inputPath, "-ar", strconv.Itoa(f.cfg.SampleRate), "-ac", "1"}
	if filtered {
		args = append(args, "-af", f.cfg.FilterChain)
	}
	return append(args, "-f", "wav", "-y", outputPath)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	if f.cfg.TranscodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.TranscodeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.cfg.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	switch {
	case isMissingBinary(err):
		return newError(KindTranscodeFailure, "ffmpeg is not installed", ffmpegRemediation, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindTranscodeFailure, "audio conversion timed out", "send a shorter voice note", ctx.Err())
	default:
		return &Error{
			Kind:        KindTranscodeFailure,
			Message:     "ffmpeg conversion failed",
			Remediation: ffmpegRemediation,
			Stderr:      lastLines(string(output), 5),
			Err:         err,
		}
	}
}

// isMissingBinary reports a binary that is not on PATH or does not exist.
func isMissingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return newError(KindTranscodeFailure, "ffmpeg produced no output file", ffmpegRemediation, err)
	}
	if info.Size() == 0 {
		return newError(KindTranscodeFailure, "ffmpeg produced an empty file", ffmpegRemediation, nil)
	}
	return nil
}

// lastLines keeps the tail of ffmpeg output, where the error is.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// CheckFFmpeg checks if ffmpeg is available.
func CheckFFmpeg(ffmpegPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	cmd := exec.Command(ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}
