package platform

import (
	"context"
	"time"

	"CampaignSentinel/internal/model"
)

// UnitInfo is the platform view of a delivery unit.
type UnitInfo struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	CampaignID     string  `json:"campaign_id"`
	DailyBudget    float64 `json:"daily_budget"`
	LifetimeBudget float64 `json:"lifetime_budget"`
}

// Budget returns the budget of the given type.
func (u *UnitInfo) Budget(t model.BudgetType) float64 {
	if t == model.BudgetLifetime {
		return u.LifetimeBudget
	}
	return u.DailyBudget
}

// Removed reports whether the unit is deleted or archived and can no longer take budget changes.
func (u *UnitInfo) Removed() bool { return u.Status == "DELETED" || u.Status == "ARCHIVED" }

// AdjustResponse is the platform reply to a budget change.
type AdjustResponse struct {
	Success bool    `json:"success"`
	UnitID  string  `json:"unit_id"`
	Budget  float64 `json:"budget"`
	Raw     string  `json:"raw,omitempty"`
}

// Client reads and changes unit budgets on the ad platform.
type Client interface {
	ValidateUnit(ctx context.Context, unitID string) (*UnitInfo, error)
	AdjustBudget(ctx context.Context, unitID string, t model.BudgetType, amount float64) (*AdjustResponse, error)
}

// InsightFetcher reads daily delivery insights.
type InsightFetcher interface {
	FetchInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error)
	Name() string
}
