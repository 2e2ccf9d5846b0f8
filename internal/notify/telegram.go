package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

var severityIcons = map[Severity]string{
	SeverityInfo:     "ℹ️",
	SeverityWarning:  "⚠️",
	SeverityCritical: "🚨",
}

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert with sendMessage using HTML formatting.
func (t *TelegramSender) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	var text strings.Builder
	fmt.Fprintf(&text, "%s <b>%s</b>", severityIcons[alert.Severity], html.EscapeString(alert.Title))
	for _, f := range alert.Fields {
		fmt.Fprintf(&text, "\n%s: <code>%s</code>", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text.String(),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
