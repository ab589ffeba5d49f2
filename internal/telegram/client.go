package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"signalrelay/internal/delivery"
)

// Client sends messages through the Telegram Bot API. Failures are
// classified for the delivery engine: network errors, 5xx and 429 are
// transient; auth and bad-destination errors are permanent.
type Client struct {
	BotToken string
	HTTP     *http.Client
}

func New(botToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BotToken: botToken,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) Send(ctx context.Context, chatID string, text string) error {
	if c.BotToken == "" {
		return &delivery.PermanentError{Err: fmt.Errorf("bot token not configured")}
	}
	if chatID == "" {
		return &delivery.PermanentError{Err: fmt.Errorf("empty chat id")}
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", url.PathEscape(c.BotToken))
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return &delivery.PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &delivery.PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &delivery.TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var result apiResult
	_ = json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == http.StatusOK && result.OK {
		return nil
	}
	return classifyStatus(resp.StatusCode, result.Description)
}

func classifyStatus(status int, description string) error {
	err := fmt.Errorf("telegram http %d: %s", status, description)
	switch {
	case status == http.StatusTooManyRequests:
		return &delivery.TransientError{Err: err}
	case status >= 500:
		return &delivery.TransientError{Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &delivery.PermanentError{Err: err}
	case status == http.StatusBadRequest:
		// Malformed destination or message; retrying cannot help.
		return &delivery.PermanentError{Err: err}
	default:
		return &delivery.TransientError{Err: err}
	}
}

// GetMe checks API reachability and token validity for readiness probes.
func (c *Client) GetMe(ctx context.Context) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/getMe", url.PathEscape(c.BotToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var result apiResult
	_ = json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("getMe failed: http %d %s", resp.StatusCode, result.Description)
	}
	return nil
}
