package model

import "time"

// BudgetType selects which platform budget is changed.
type BudgetType string

const (
	BudgetDaily    BudgetType = "daily"
	BudgetLifetime BudgetType = "lifetime"
)

// TriggerType records who initiated a budget adjustment.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
)

// AdjustmentStatus is the audit-log lifecycle.
type AdjustmentStatus string

const (
	AdjustmentPending AdjustmentStatus = "pending"
	AdjustmentApplied AdjustmentStatus = "applied"
	AdjustmentFailed  AdjustmentStatus = "failed"
)

// AdjustmentContext is the free-form context captured with an adjustment.
type AdjustmentContext struct {
	Source   string `json:"source,omitempty"`
	AlertID  string `json:"alert_id,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
	Note     string `json:"note,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
	Forced   bool   `json:"forced,omitempty"`
	UnitName string `json:"unit_name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// BudgetAdjustmentLog is the audit record of one budget change attempt.
type BudgetAdjustmentLog struct {
	ID               string            `json:"id"`
	UnitID           string            `json:"unit_id"`
	BudgetType       BudgetType        `json:"budget_type"`
	OldBudget        float64           `json:"old_budget"`
	NewBudget        float64           `json:"new_budget"`
	AmountChange     float64           `json:"amount_change"`
	PercentChange    float64           `json:"percent_change"`
	Reason           string            `json:"reason"`
	Trigger          TriggerType       `json:"trigger_type"`
	Context          AdjustmentContext `json:"context"`
	UserID           string            `json:"user_id,omitempty"`
	Status           AdjustmentStatus  `json:"status"`
	PlatformResponse string            `json:"platform_response,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	AppliedAt        *time.Time        `json:"applied_at,omitempty"`
}

// FrequencyCheck is the state of the per-unit adjustment cap.
type FrequencyCheck struct {
	CanAdjust         bool       `json:"can_adjust"`
	AdjustmentsInHour int        `json:"adjustments_in_window"`
	Remaining         int        `json:"remaining"`
	NextAvailableTime *time.Time `json:"next_available_time,omitempty"`
}
