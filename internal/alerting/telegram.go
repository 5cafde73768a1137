package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Telegram 通过 Bot API 推送告警文本。
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegram constructs a Telegram notifier.
func NewTelegram(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

func (n *Telegram) Name() string { return "telegram" }

// Send 调用 sendMessage API。recipient 仅出现在正文中，消息总是发往配置的 chat。
func (n *Telegram) Send(ctx context.Context, msg Message) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    telegramText(msg),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal telegram payload: %w", ErrNotify, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create telegram request: %w", ErrNotify, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send telegram request: %w", ErrNotify, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: telegram status %d", ErrNotify, resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("%w: telegram ok=false: %s", ErrNotify, result.Description)
	}

	n.logger.Info().Str("route", msg.Alert.RouteID).
		Str("price", msg.Alert.Price).
		Msg("告警已发送 (Telegram)")
	return nil
}

func telegramText(msg Message) string {
	builder := strings.Builder{}
	builder.WriteString(msg.Subject)
	builder.WriteString("\n")
	builder.WriteString(msg.Text)
	if msg.Recipient != "" {
		builder.WriteString(fmt.Sprintf("For: %s\n", msg.Recipient))
	}
	return builder.String()
}

var _ Notifier = (*Telegram)(nil)
