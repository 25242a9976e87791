package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const whisperAPIURL = "https://api.openai.com/v1/audio/transcriptions"

// WhisperAPI implements Engine using OpenAI's Whisper API.
type WhisperAPI struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewWhisperAPI creates a new Whisper API engine.
func NewWhisperAPI(apiKey string) *WhisperAPI {
	return &WhisperAPI{
		apiKey: apiKey,
		url:    whisperAPIURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the backend name.
func (w *WhisperAPI) Name() string {
	return BackendWhisperAPI
}

// Transcribe implements Engine. The API has no beam or VAD settings; the
// prompt and temperature are sent unless opts is minimal.
func (w *WhisperAPI) Transcribe(ctx context.Context, wavPath string, opts DecodeOptions) (*Result, error) {
	if w.apiKey == "" {
		return nil, newError(KindModelUnavailable, "whisper API key not configured", "set speech.openai_api_key", nil)
	}

	file, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = file.Close() }()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file to form: %w", err)
	}

	fields := map[string]string{
		"model":           "whisper-1",
		"response_format": "verbose_json",
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if !opts.Minimal {
		fields["temperature"] = strconv.FormatFloat(opts.Temperature, 'f', -1, 64)
		if opts.InitialPrompt != "" {
			fields["prompt"] = opts.InitialPrompt
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{
			Kind:        KindModelUnavailable,
			Message:     fmt.Sprintf("whisper API rejected the key (status %d)", resp.StatusCode),
			Remediation: "check speech.openai_api_key",
			Stderr:      string(respBody),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse Whisper API response: %w", err)
	}

	// 16 kHz, 16-bit mono is 32000 bytes per second.
	duration := apiResp.Duration
	if duration == 0 {
		duration = float64(fileInfo.Size()) / 32000.0
	}

	return &Result{
		Text:     apiResp.Text,
		Language: apiResp.Language,
		Duration: duration,
	}, nil
}
