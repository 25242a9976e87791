package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.telegram.org"

// ErrConflict is returned when another process polls the same bot token.
var ErrConflict = errors.New("telegram: another bot instance is running")

// Client is a Telegram Bot API client
type Client struct {
	botToken   string
	apiURL     string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL points the client at another Bot API server.
func WithAPIURL(url string) ClientOption {
	return func(c *Client) { c.apiURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new Telegram client. The HTTP timeout leaves room
// for long polling.
func NewClient(botToken string, opts ...ClientOption) *Client {
	c := &Client{
		botToken: botToken,
		apiURL:   defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Update is one entry of getUpdates or a webhook delivery.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message represents a Telegram message
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      *Chat       `json:"chat"`
	Date      int64       `json:"date"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Voice     *Voice      `json:"voice,omitempty"`
	Audio     *Voice      `json:"audio,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

// User represents a Telegram user
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName joins first and last name, falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// Chat represents a Telegram chat
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Voice is a voice note or audio file. Duration is in seconds as declared
// by the sender's client.
type Voice struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Duration     int    `json:"duration"`
	MimeType     string `json:"mime_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// File is the result of getFile.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// InlineKeyboardButton is a button under a message.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is the reply_markup of a message with buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// KeyboardButton is a button of the custom keyboard.
type KeyboardButton struct {
	Text string `json:"text"`
}

// ReplyKeyboardMarkup replaces the user's keyboard with fixed buttons.
type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard,omitempty"`
	IsPersistent   bool               `json:"is_persistent,omitempty"`
}

// SendMessageRequest represents a Telegram sendMessage request
type SendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode,omitempty"`
	ReplyMarkup any    `json:"reply_markup,omitempty"`
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// call posts req as JSON to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	url := c.apiURL + "/bot" + c.botToken + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		if result.ErrorCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrConflict, result.Description)
		}
		return fmt.Errorf("telegram API error: %s (code: %d)", result.Description, result.ErrorCode)
	}
	if out == nil || len(result.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// GetUpdates retrieves updates using long polling
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]*Update, error) {
	return c.getUpdates(ctx, offset, timeout, 0)
}

// getUpdates asks for at most limit updates; 0 leaves the server default.
func (c *Client) getUpdates(ctx context.Context, offset int64, timeout, limit int) ([]*Update, error) {
	req := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if limit > 0 {
		req["limit"] = limit
	}
	var updates []*Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// CheckSingleton returns ErrConflict when another instance is polling.
// Offset 0 confirms nothing, so updates queued while the bot was down are
// still delivered to the poller.
func (c *Client) CheckSingleton(ctx context.Context) error {
	_, err := c.getUpdates(ctx, 0, 0, 1)
	return err
}

// SendMessage sends a message to a chat
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendText sends plain text to chatID and returns the new message ID.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	msg, err := c.SendMessage(ctx, &SendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// AnswerCallbackQuery stops the loading indicator of a pressed button.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	req := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		req["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}

// SetWebhook registers url for update delivery. Telegram echoes secret in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	req := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		req["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", req, nil)
}

// DeleteWebhook switches the bot back to getUpdates.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// GetFile resolves a file ID to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DownloadFile streams a file returned by GetFile. The caller closes the
// body.
func (c *Client) DownloadFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	url := c.apiURL + "/file/bot" + c.botToken + "/" + filePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Fetch downloads the file with the given ID.
func (c *Client) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("getFile failed: %w", err)
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("file %s: path not available", fileID)
	}
	return c.DownloadFile(ctx, f.FilePath)
}
