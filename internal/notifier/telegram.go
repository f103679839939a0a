package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/retry"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	APIBase  string
	BotToken string
	ChatID   string
	Client   *http.Client

	log zerolog.Logger
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, log zerolog.Logger) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		APIBase:  DefaultTelegramAPI,
		BotToken: botToken,
		ChatID:   chatID,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log: log.With().Str("service", "telegram").Logger(),
	}
}

func (t *TelegramNotifier) Channel() model.Channel { return model.ChannelTelegram }

// Send delivers a rendered alert notification. A recipient overrides the default chat.
func (t *TelegramNotifier) Send(ctx context.Context, n *model.Notification) error {
	chat := t.ChatID
	if n.Recipient != "" {
		chat = n.Recipient
	}
	return t.sendMessage(ctx, chat, n.Content)
}

// SendText sends an HTML message to the configured chat.
func (t *TelegramNotifier) SendText(ctx context.Context, text string) error {
	return t.sendMessage(ctx, t.ChatID, text)
}

// SendWithRetry sends text with exponential backoff.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	b := retry.New(time.Second, maxRetries, 0)
	return b.Do(ctx, func(ctx context.Context) error {
		return t.SendText(ctx, text)
	}, func(attempt int, wait time.Duration, err error) {
		t.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("telegram send failed, retrying")
	})
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, chatID, text string) error {
	if t.BotToken == "" || chatID == "" {
		return fmt.Errorf("telegram not configured")
	}
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.BotToken)
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return &model.ExternalServiceError{Service: "telegram", Op: "sendMessage", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &model.ExternalServiceError{
			Service: "telegram",
			Op:      "sendMessage",
			Err:     fmt.Errorf("status %d, body: %s", resp.StatusCode, string(respBody)),
		}
	}
	return nil
}
