package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
)

// WebhookSender POSTs JSON payloads to a configured URL.
type WebhookSender struct {
	URL    string
	Token  string
	Client *http.Client

	log zerolog.Logger
}

// NewWebhookSender creates a webhook sender. token is sent as a bearer header when set.
func NewWebhookSender(url, token string, timeout time.Duration, log zerolog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
		log:    log.With().Str("service", "webhook").Logger(),
	}
}

func (w *WebhookSender) Channel() model.Channel { return model.ChannelWebhook }

// Send posts the rendered content, which is already JSON. A recipient overrides the URL.
func (w *WebhookSender) Send(ctx context.Context, n *model.Notification) error {
	target := w.URL
	if n.Recipient != "" {
		target = n.Recipient
	}
	return w.post(ctx, target, "alert", []byte(n.Content))
}

// BudgetChangeEvent is the payload posted after an applied budget adjustment.
type BudgetChangeEvent struct {
	Event         string           `json:"event"`
	LogID         string           `json:"log_id"`
	UnitID        string           `json:"unit_id"`
	BudgetType    model.BudgetType `json:"budget_type"`
	OldBudget     float64          `json:"old_budget"`
	NewBudget     float64          `json:"new_budget"`
	PercentChange float64          `json:"percent_change"`
	Reason        string           `json:"reason"`
	DryRun        bool             `json:"dry_run"`
	AppliedAt     *time.Time       `json:"applied_at,omitempty"`
}

// NotifyBudgetChange posts a budget_adjusted event.
func (w *WebhookSender) NotifyBudgetChange(ctx context.Context, l *model.BudgetAdjustmentLog) error {
	body, err := json.Marshal(BudgetChangeEvent{
		Event:         "budget_adjusted",
		LogID:         l.ID,
		UnitID:        l.UnitID,
		BudgetType:    l.BudgetType,
		OldBudget:     l.OldBudget,
		NewBudget:     l.NewBudget,
		PercentChange: l.PercentChange,
		Reason:        l.Reason,
		DryRun:        l.Context.DryRun,
		AppliedAt:     l.AppliedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal budget event: %w", err)
	}
	return w.post(ctx, w.URL, "budget_adjusted", body)
}

func (w *WebhookSender) post(ctx context.Context, target, event string, body []byte) error {
	if target == "" {
		return &model.ValidationError{Field: "webhook_url", Reason: "not configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", event)
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return &model.ExternalServiceError{Service: "webhook", Op: event, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &model.ExternalServiceError{
			Service: "webhook",
			Op:      event,
			Err:     fmt.Errorf("status %d, body: %s", resp.StatusCode, string(respBody)),
		}
	}
	w.log.Debug().Str("event", event).Str("url", target).Msg("webhook delivered")
	return nil
}
