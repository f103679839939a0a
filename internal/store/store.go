package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"CampaignSentinel/internal/model"
)

// ErrNotFound is returned when a single-entity lookup matches nothing.
var ErrNotFound = errors.New("not found")

// FrequencyWindow is the rolling window of the budget adjustment cap.
const FrequencyWindow = time.Hour

// Store is the full metrics store contract used by the control loop.
type Store interface {
	GetGoal(ctx context.Context, unitID string) (*model.Goal, error)
	ListGoals(ctx context.Context) ([]model.Goal, error)
	UpsertGoal(ctx context.Context, g *model.Goal) error

	ListDeliveries(ctx context.Context, unitID string, since time.Time) ([]model.DeliveryRecord, error)
	AddDelivery(ctx context.Context, rec *model.DeliveryRecord) error

	ListInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error)
	AddInsight(ctx context.Context, rec *model.InsightRecord) error
	ReplaceInsights(ctx context.Context, unitID string, since, until time.Time, recs []model.InsightRecord) error
	SpendSince(ctx context.Context, unitID string, since time.Time) (float64, error)

	ListActiveRules(ctx context.Context) ([]model.AlertRule, error)
	SaveRule(ctx context.Context, r *model.AlertRule) error

	CreateAlert(ctx context.Context, a *model.Alert) error
	ShouldSuppress(ctx context.Context, ruleID, unitID string, typ model.AlertType, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, unitID string, limit int) ([]model.Alert, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	UpdateNotification(ctx context.Context, n *model.Notification) error

	CreateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error
	UpdateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error
	GetAdjustmentLog(ctx context.Context, id string) (*model.BudgetAdjustmentLog, error)
	ListAdjustmentLogs(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error)
	CheckAdjustmentFrequency(ctx context.Context, unitID, excludeLogID string, now time.Time, limit int) (model.FrequencyCheck, error)

	Close() error
}

// frequencyFromTimes derives the cap state from the applied timestamps inside the window.
func frequencyFromTimes(applied []time.Time, now time.Time, limit int) model.FrequencyCheck {
	windowStart := now.Add(-FrequencyWindow)
	inWindow := make([]time.Time, 0, len(applied))
	for _, t := range applied {
		if t.After(windowStart) && !t.After(now) {
			inWindow = append(inWindow, t)
		}
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })

	fc := model.FrequencyCheck{AdjustmentsInHour: len(inWindow)}
	if len(inWindow) < limit {
		fc.CanAdjust = true
		fc.Remaining = limit - len(inWindow)
		return fc
	}
	// A slot frees once enough of the oldest adjustments age out of the window.
	next := inWindow[len(inWindow)-limit].Add(FrequencyWindow)
	fc.NextAvailableTime = &next
	return fc
}
