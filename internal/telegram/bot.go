package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIBase is the public Bot API endpoint
const DefaultAPIBase = "https://api.telegram.org"

// TelegramBot handles Telegram Bot API calls
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	mu         sync.RWMutex
	enabled    bool
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIBase  string
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config) *TelegramBot {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}

	return &TelegramBot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		apiBase:    strings.TrimRight(config.APIBase, "/"),
		enabled:    config.Enabled,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsEnabled returns whether the bot is enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// SetEnabled enables or disables the bot
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// ChatID returns the authorized chat
func (tb *TelegramBot) ChatID() string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.chatID
}

func (tb *TelegramBot) ready() error {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if !tb.enabled {
		return fmt.Errorf("telegram bot is disabled")
	}
	if tb.botToken == "" || tb.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	return nil
}

func (tb *TelegramBot) methodURL(method string) string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return fmt.Sprintf("%s/bot%s/%s", tb.apiBase, tb.botToken, method)
}

// SendMessage sends an HTML text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	if err := tb.ready(); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id":    tb.ChatID(),
		"text":       message,
		"parse_mode": "HTML",
	}
	_, err := tb.call(ctx, "sendMessage", payload)
	return err
}

// SendPhoto sends a JPEG with an optional HTML caption
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	if err := tb.ready(); err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", tb.ChatID()); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "sighting.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// call sends a JSON request to a Bot API method and returns its result
func (tb *TelegramBot) call(ctx context.Context, method string, payload map[string]interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL(method), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return telegramResp.Result, nil
}
