package model

import "time"

// AlertType names the rule evaluator that raised an alert.
type AlertType string

const (
	AlertGoalDeviation      AlertType = "goal_deviation"
	AlertHighCPL            AlertType = "high_cpl"
	AlertBudgetDepletion    AlertType = "budget_depletion"
	AlertQualityDrop        AlertType = "quality_drop"
	AlertPerformanceAnomaly AlertType = "performance_anomaly"
)

// Channel is a notification destination.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWebhook  Channel = "webhook"
	ChannelTelegram Channel = "telegram"
	ChannelNATS     Channel = "nats"
)

// RuleScope is the tier a rule applies at.
type RuleScope string

const (
	ScopeUnit   RuleScope = "unit"
	ScopeParent RuleScope = "parent"
	ScopeGlobal RuleScope = "global"
)

// RuleThresholds holds the per-rule parameters. Zero values fall back to engine defaults.
type RuleThresholds struct {
	DeviationPercent    float64 `json:"deviation_pct,omitempty" yaml:"deviation_pct"`
	MinElapsedDays      int     `json:"min_elapsed_days,omitempty" yaml:"min_elapsed_days"`
	CPLIncreasePercent  float64 `json:"cpl_increase_pct,omitempty" yaml:"cpl_increase_pct"`
	MinConversions      int     `json:"min_conversions,omitempty" yaml:"min_conversions"`
	BudgetUsedPercent   float64 `json:"budget_used_pct,omitempty" yaml:"budget_used_pct"`
	GoalProgressPercent float64 `json:"goal_progress_pct,omitempty" yaml:"goal_progress_pct"`
}

// AlertRule is static alerting configuration.
type AlertRule struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            AlertType      `json:"type"`
	Severity        Severity       `json:"severity"`
	UnitID          string         `json:"unit_id,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	Thresholds      RuleThresholds `json:"thresholds"`
	Channels        []Channel      `json:"channels"`
	Recipients      []string       `json:"recipients,omitempty"`
	CooldownMinutes int            `json:"cooldown_minutes"`
	Active          bool           `json:"active"`
}

// Scope derives the rule tier from which scope fields are set.
func (r *AlertRule) Scope() RuleScope {
	switch {
	case r.UnitID != "":
		return ScopeUnit
	case r.ParentID != "":
		return ScopeParent
	default:
		return ScopeGlobal
	}
}

// AlertStatus is the operator lifecycle of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// DeviationContext is attached to goal-deviation alerts.
type DeviationContext struct {
	ActualProgress float64        `json:"actual_progress_pct"`
	IdealProgress  float64        `json:"ideal_progress_pct"`
	Deviation      float64        `json:"deviation_pct"`
	Threshold      float64        `json:"threshold_pct"`
	Status         ProgressStatus `json:"status"`
	DaysElapsed    int            `json:"days_elapsed"`
	DaysRemaining  int            `json:"days_remaining"`
	DailyTarget    float64        `json:"daily_target"`
}

// CostContext is attached to high-CPL alerts.
type CostContext struct {
	CurrentCPL      float64 `json:"current_cpl"`
	TargetCPL       float64 `json:"target_cpl"`
	IncreasePercent float64 `json:"increase_pct"`
	Threshold       float64 `json:"threshold_pct"`
	Conversions     int     `json:"conversions"`
}

// BudgetContext is attached to budget-depletion alerts.
type BudgetContext struct {
	SpendToDate         float64 `json:"spend_to_date"`
	MaxBudget           float64 `json:"max_budget"`
	BudgetUsedPercent   float64 `json:"budget_used_pct"`
	GoalProgressPercent float64 `json:"goal_progress_pct"`
	BudgetThreshold     float64 `json:"budget_threshold_pct"`
	ProgressThreshold   float64 `json:"progress_threshold_pct"`
}

// AlertContext is a tagged union keyed by Kind; exactly one payload is set.
type AlertContext struct {
	Kind      AlertType         `json:"kind"`
	Deviation *DeviationContext `json:"deviation,omitempty"`
	Cost      *CostContext      `json:"cost,omitempty"`
	Budget    *BudgetContext    `json:"budget,omitempty"`
}

// Alert is a persisted alert instance.
type Alert struct {
	ID               string       `json:"id"`
	RuleID           string       `json:"rule_id"`
	UnitID           string       `json:"unit_id"`
	UnitName         string       `json:"unit_name"`
	Type             AlertType    `json:"type"`
	Severity         Severity     `json:"severity"`
	Title            string       `json:"title"`
	Message          string       `json:"message"`
	Context          AlertContext `json:"context"`
	SuggestedActions []string     `json:"suggested_actions"`
	Status           AlertStatus  `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NotificationStatus tracks delivery of a notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is one rendered message for one channel.
type Notification struct {
	ID        string             `json:"id"`
	AlertID   string             `json:"alert_id"`
	Channel   Channel            `json:"channel"`
	Recipient string             `json:"recipient,omitempty"`
	Subject   string             `json:"subject"`
	Content   string             `json:"content"`
	Status    NotificationStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}
