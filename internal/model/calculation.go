package model

import "time"

// ProgressStatus classifies a goal by its deviation from ideal progress.
type ProgressStatus string

const (
	StatusCriticalDelay       ProgressStatus = "critical_delay"
	StatusSignificantlyBehind ProgressStatus = "significantly_behind"
	StatusSlightlyBehind      ProgressStatus = "slightly_behind"
	StatusOnTrack             ProgressStatus = "on_track"
	StatusAheadOfSchedule     ProgressStatus = "ahead_of_schedule"
)

// IsBehind reports whether the status is one of the behind-schedule states.
func (s ProgressStatus) IsBehind() bool {
	return s == StatusCriticalDelay || s == StatusSignificantlyBehind || s == StatusSlightlyBehind
}

// Trend labels the direction of historical delivery.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Feasibility labels how hard a catch-up plan is.
type Feasibility string

const (
	FeasibilityEasy        Feasibility = "easy"
	FeasibilityChallenging Feasibility = "challenging"
	FeasibilityDifficult   Feasibility = "difficult"
	FeasibilityImpossible  Feasibility = "impossible"
)

// RiskLevel of an adjusted distribution.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// BasicDistribution is the uniform daily target over the remaining days.
type BasicDistribution struct {
	RemainingVolume int     `json:"remaining_volume"`
	DaysRemaining   int     `json:"days_remaining"`
	DailyTarget     float64 `json:"daily_target"`
	WeekdayTarget   float64 `json:"weekday_target"`
	WeekendTarget   float64 `json:"weekend_target"`
	WeekdaysLeft    int     `json:"weekdays_left"`
	WeekendDaysLeft int     `json:"weekend_days_left"`
}

// AdjustedDistribution is the performance-corrected daily target.
type AdjustedDistribution struct {
	AdjustedDailyTarget float64   `json:"adjusted_daily_target"`
	CappedDailyTarget   float64   `json:"capped_daily_target"`
	PerformanceFactor   float64   `json:"performance_factor"`
	CapacityCeiling     float64   `json:"capacity_ceiling"`
	IsRealistic         bool      `json:"is_realistic"`
	Confidence          float64   `json:"confidence"`
	RiskLevel           RiskLevel `json:"risk_level"`
}

// HistoricalPerformance summarises daily delivery over the lookback window.
type HistoricalPerformance struct {
	LookbackDays       int       `json:"lookback_days"`
	DataPoints         int       `json:"data_points"`
	DailySeries        []float64 `json:"daily_series,omitempty"`
	MeanDaily          float64   `json:"mean_daily"`
	MaxDaily           float64   `json:"max_daily"`
	MinDaily           float64   `json:"min_daily"`
	StdDev             float64   `json:"std_dev"`
	WeekendWeekdayRate float64   `json:"weekend_weekday_ratio"`
	Trend              Trend     `json:"trend"`
}

// CurrentMetrics aggregates the most recent delivery window.
type CurrentMetrics struct {
	WindowDays       int     `json:"window_days"`
	TotalSpend       float64 `json:"total_spend"`
	TotalConversions int     `json:"total_conversions"`
	DailyLeads       float64 `json:"daily_leads"`
	DailySpend       float64 `json:"daily_spend"`
	EffectiveCPL     float64 `json:"effective_cpl"`
	UsedDefaultCPL   bool    `json:"used_default_cpl"`
}

// ProgressMetrics compares captured volume against elapsed contract time.
type ProgressMetrics struct {
	TotalDays      int            `json:"total_days"`
	DaysElapsed    int            `json:"days_elapsed"`
	DaysRemaining  int            `json:"days_remaining"`
	ActualProgress float64        `json:"actual_progress_pct"`
	IdealProgress  float64        `json:"ideal_progress_pct"`
	Deviation      float64        `json:"deviation_pct"`
	Status         ProgressStatus `json:"status"`
}

// CatchUpPlan describes the boost needed to close a deficit.
type CatchUpPlan struct {
	DeficitPercent          float64     `json:"deficit_pct"`
	ExtraUnitsNeeded        float64     `json:"extra_units_needed"`
	RequiredDailyBoost      float64     `json:"required_daily_boost"`
	BoostPercent            float64     `json:"boost_pct"`
	Feasibility             Feasibility `json:"feasibility"`
	EstimatedBudgetIncrease float64     `json:"estimated_budget_increase"`
}

// CapacityAnalysis bounds what the unit can plausibly deliver per day.
type CapacityAnalysis struct {
	TheoreticalMaxDaily float64 `json:"theoretical_max_daily"`
	RealisticMaxDaily   float64 `json:"realistic_max_daily"`
	UtilizationPercent  float64 `json:"utilization_pct"`
}

// CalculationAlertKind names a condition raised by the calculation itself.
type CalculationAlertKind string

const (
	CalcAlertBehindSchedule    CalculationAlertKind = "behind_schedule"
	CalcAlertUnrealisticTarget CalculationAlertKind = "unrealistic_target"
	CalcAlertCapacityExceeded  CalculationAlertKind = "capacity_exceeded"
)

// CalculationAlert is a lightweight alert attached to a calculation result.
type CalculationAlert struct {
	Kind             CalculationAlertKind `json:"kind"`
	Severity         Severity             `json:"severity"`
	Message          string               `json:"message"`
	SuggestedActions []string             `json:"suggested_actions"`
}

// CalculationResult is everything the calculation engine derives for one unit.
type CalculationResult struct {
	UnitID       string                `json:"unit_id"`
	Goal         Goal                  `json:"goal"`
	Basic        BasicDistribution     `json:"basic_distribution"`
	Adjusted     AdjustedDistribution  `json:"adjusted_distribution"`
	Historical   HistoricalPerformance `json:"historical_performance"`
	Current      CurrentMetrics        `json:"current_metrics"`
	Progress     ProgressMetrics       `json:"progress_metrics"`
	CatchUp      *CatchUpPlan          `json:"catch_up_plan,omitempty"`
	Capacity     CapacityAnalysis      `json:"capacity_analysis"`
	Alerts       []CalculationAlert    `json:"alerts"`
	CalculatedAt time.Time             `json:"calculated_at"`
}
