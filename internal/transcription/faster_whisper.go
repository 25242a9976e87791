package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmm-1987/agente/internal/logging"
)

const fasterWhisperRemediation = "pip install faster-whisper (or set speech.backend: whisper-api)"

// workerScript loads the model once and answers one JSON request per stdin
// line with one JSON line on stdout. Model load falls back from the
// configured device to CPU int8 to library defaults.
const workerScript = `
import json, sys
try:
    from faster_whisper import WhisperModel
except ImportError as e:
    print(json.dumps({"error": "faster-whisper not installed: %s" % e}), flush=True)
    sys.exit(1)

model_name, device, compute_type = sys.argv[1], sys.argv[2], sys.argv[3]
model, err = None, ""
for kwargs in ({"device": device, "compute_type": compute_type}, {"device": "cpu", "compute_type": "int8"}, {"device": "cpu"}, {}):
    try:
        model = WhisperModel(model_name, **kwargs)
        break
    except Exception as e:
        err = str(e)
if model is None:
    print(json.dumps({"error": err}), flush=True)
    sys.exit(1)
print(json.dumps({"ready": True}), flush=True)

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    try:
        req = json.loads(line)
        opts = {"language": req["language"], "beam_size": req["beam_size"], "temperature": req["temperature"]}
        if not req.get("minimal"):
            opts.update(
                best_of=req["beam_size"],
                condition_on_previous_text=True,
                initial_prompt=req.get("initial_prompt") or None,
                vad_filter=True,
                vad_parameters={"min_silence_duration_ms": req["vad_min_silence_ms"]},
            )
        segments, info = model.transcribe(req["path"], **opts)
        parts = [s.text.strip() for s in segments if s.text.strip()]
        print(json.dumps({"text": " ".join(parts), "language": info.language, "duration": info.duration}), flush=True)
    except Exception as e:
        print(json.dumps({"error": "%s: %s" % (type(e).__name__, e)}), flush=True)
`

// extractJSON finds and returns the first JSON object line in output.
// Model libraries print progress to stdout before the answer.
func extractJSON(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return line
		}
	}
	return ""
}

// pythonPath returns the configured interpreter, else ~/.agente/venv if it
// exists, else python3.
func pythonPath(configured string) string {
	if configured != "" {
		return configured
	}
	if home, err := os.UserHomeDir(); err == nil {
		venvPython := filepath.Join(home, ".agente", "venv", "bin", "python3")
		if _, err := os.Stat(venvPython); err == nil {
			return venvPython
		}
	}
	return "python3"
}

type workerRequest struct {
	Path            string  `json:"path"`
	Language        string  `json:"language"`
	BeamSize        int     `json:"beam_size"`
	Temperature     float64 `json:"temperature"`
	InitialPrompt   string  `json:"initial_prompt,omitempty"`
	VADMinSilenceMS int     `json:"vad_min_silence_ms"`
	Minimal         bool    `json:"minimal,omitempty"`
}

type workerResponse struct {
	Ready    bool    `json:"ready"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// FasterWhisper runs the faster-whisper model in a long-lived Python
// process. Requests are serialized over its stdin.
type FasterWhisper struct {
	cfg SpeechConfig
	log *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	dead   bool
}

// StartFasterWhisper starts the worker and waits for the model to load.
func StartFasterWhisper(ctx context.Context, cfg SpeechConfig) (*FasterWhisper, error) {
	f := &FasterWhisper{cfg: cfg, log: logging.WithComponent("faster-whisper")}
	if err := f.start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Name returns the backend name.
func (f *FasterWhisper) Name() string { return BackendFasterWhisper }

func (f *FasterWhisper) start(ctx context.Context) error {
	model, device, compute := f.cfg.Model, f.cfg.Device, f.cfg.ComputeType
	if model == "" {
		model = "small"
	}
	if device == "" {
		device = "cpu"
	}
	if compute == "" {
		compute = "int8"
	}

	// The worker outlives ctx; ctx only bounds the wait for the model.
	cmd := exec.Command(pythonPath(f.cfg.PythonPath), "-u", "-c", workerScript, model, device, compute)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(KindModelUnavailable, "cannot open worker stdin", fasterWhisperRemediation, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(KindModelUnavailable, "cannot open worker stdout", fasterWhisperRemediation, err)
	}
	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderr, n: 4096}

	f.log.Info("starting speech worker",
		slog.String("model", model),
		slog.String("device", device),
		slog.String("compute_type", compute))
	if err := cmd.Start(); err != nil {
		return newError(KindModelUnavailable, "python not available", "install python3 and "+fasterWhisperRemediation, err)
	}

	f.cmd, f.stdin, f.stdout, f.dead = cmd, stdin, bufio.NewReader(stdout), false

	resp, err := f.readResponse(ctx)
	if err != nil || !resp.Ready {
		f.kill()
		msg := "speech model failed to load"
		if resp != nil && resp.Error != "" {
			msg += ": " + resp.Error
		}
		return &Error{
			Kind:        KindModelUnavailable,
			Message:     msg,
			Remediation: fasterWhisperRemediation,
			Stderr:      strings.TrimSpace(stderr.String()),
			Err:         err,
		}
	}
	f.log.Info("speech worker ready")
	return nil
}

// Transcribe implements Engine. A worker that died is restarted once.
func (f *FasterWhisper) Transcribe(ctx context.Context, wavPath string, opts DecodeOptions) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dead {
		f.log.Warn("speech worker not running, restarting")
		if err := f.start(ctx); err != nil {
			return nil, err
		}
	}

	req := workerRequest{
		Path:            wavPath,
		Language:        opts.Language,
		BeamSize:        opts.BeamSize,
		Temperature:     opts.Temperature,
		InitialPrompt:   opts.InitialPrompt,
		VADMinSilenceMS: opts.VADMinSilenceMS,
		Minimal:         opts.Minimal,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	if _, err := f.stdin.Write(append(line, '\n')); err != nil {
		f.kill()
		return nil, newError(KindModelUnavailable, "speech worker is not accepting requests", fasterWhisperRemediation, err)
	}

	resp, err := f.readResponse(ctx)
	if err != nil {
		f.kill()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("faster-whisper: %s", resp.Error)
	}
	return &Result{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}, nil
}

// readResponse reads lines until one holds a JSON object. If ctx ends
// first the worker is killed, since its output is no longer in step.
func (f *FasterWhisper) readResponse(ctx context.Context) (*workerResponse, error) {
	type lineResult struct {
		resp *workerResponse
		err  error
	}
	ch := make(chan lineResult, 1)
	stdout := f.stdout

	go func() {
		for {
			line, err := stdout.ReadString('\n')
			if data := extractJSON(line); data != "" {
				var resp workerResponse
				if jerr := json.Unmarshal([]byte(data), &resp); jerr == nil {
					ch <- lineResult{resp: &resp}
					return
				}
			}
			if err != nil {
				ch <- lineResult{err: newError(KindModelUnavailable, "speech worker exited", fasterWhisperRemediation, err)}
				return
			}
		}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		f.kill()
		return nil, ctx.Err()
	}
}

func (f *FasterWhisper) kill() {
	f.dead = true
	if f.stdin != nil {
		_ = f.stdin.Close()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
		_ = f.cmd.Wait()
	}
}

// Close stops the worker.
func (f *FasterWhisper) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return nil
	}
	f.dead = true
	_ = f.stdin.Close()
	if err := f.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return err
		}
	}
	return nil
}

// limitedWriter keeps at most n bytes.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	l.n -= len(keep)
	if _, err := l.w.Write(keep); err != nil {
		return 0, err
	}
	return len(p), nil
}
