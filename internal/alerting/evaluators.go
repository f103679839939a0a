package alerting

import (
	"fmt"

	"CampaignSentinel/internal/model"
)

// Rule defaults applied when a threshold is left at zero.
const (
	defaultDeviationPercent    = 15.0
	defaultMinElapsedDays      = 3
	defaultCPLIncreasePercent  = 30.0
	defaultMinConversions      = 5
	defaultBudgetUsedPercent   = 80.0
	defaultGoalProgressPercent = 60.0
)

// Snapshot is the per-unit data every evaluator reads.
type Snapshot struct {
	Goal        model.Goal
	Calc        *model.CalculationResult
	SpendToDate float64
}

// Evaluation is the outcome of a triggered rule.
type Evaluation struct {
	Title   string
	Message string
	Context model.AlertContext
	Actions []string
}

// Evaluator checks one rule against a snapshot. A nil Evaluation means the condition does not hold.
type Evaluator func(rule *model.AlertRule, s *Snapshot) (*Evaluation, error)

var evaluators = map[model.AlertType]Evaluator{
	model.AlertGoalDeviation:      evaluateGoalDeviation,
	model.AlertHighCPL:            evaluateHighCPL,
	model.AlertBudgetDepletion:    evaluateBudgetDepletion,
	model.AlertQualityDrop:        noopEvaluator,
	model.AlertPerformanceAnomaly: noopEvaluator,
}

// Evaluate dispatches to the evaluator registered for the rule type.
func Evaluate(rule *model.AlertRule, s *Snapshot) (*Evaluation, error) {
	fn, ok := evaluators[rule.Type]
	if !ok {
		return nil, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown alert type %q on rule %s", rule.Type, rule.ID)}
	}
	if s.Calc == nil {
		return nil, fmt.Errorf("rule %s: no calculation for unit %s", rule.ID, s.Goal.UnitID)
	}
	return fn(rule, s)
}

var knownChannels = map[model.Channel]bool{
	model.ChannelEmail: true, model.ChannelWebhook: true, model.ChannelTelegram: true, model.ChannelNATS: true,
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r *model.AlertRule) error {
	if r.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "required"}
	}
	if _, ok := evaluators[r.Type]; !ok {
		return &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown alert type %q", r.Type)}
	}
	if !r.Severity.Valid() {
		return &model.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", r.Severity)}
	}
	if len(r.Channels) == 0 {
		return &model.ValidationError{Field: "channels", Reason: "at least one channel is required"}
	}
	for _, ch := range r.Channels {
		if !knownChannels[ch] {
			return &model.ValidationError{Field: "channels", Reason: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	if r.CooldownMinutes < 0 {
		return &model.ValidationError{Field: "cooldown_minutes", Reason: "must not be negative"}
	}
	return nil
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// evaluateGoalDeviation fires when progress lags ideal progress by at least the threshold.
// Units younger than the minimum elapsed days are skipped.
func evaluateGoalDeviation(rule *model.AlertRule, s *Snapshot) (*Evaluation, error) {
	threshold := orFloat(rule.Thresholds.DeviationPercent, defaultDeviationPercent)
	minDays := orInt(rule.Thresholds.MinElapsedDays, defaultMinElapsedDays)
	p := s.Calc.Progress
	if p.DaysElapsed < minDays || p.Deviation > -threshold {
		return nil, nil
	}

	ctx := &model.DeviationContext{
		ActualProgress: p.ActualProgress,
		IdealProgress:  p.IdealProgress,
		Deviation:      p.Deviation,
		Threshold:      threshold,
		Status:         p.Status,
		DaysElapsed:    p.DaysElapsed,
		DaysRemaining:  p.DaysRemaining,
		DailyTarget:    s.Calc.Adjusted.AdjustedDailyTarget,
	}
	actions := []string{
		fmt.Sprintf("Raise daily delivery to %.1f conversions", ctx.DailyTarget),
		"Review audience, creatives and bids",
	}
	if s.Calc.CatchUp != nil {
		actions = append(actions, fmt.Sprintf("Catch-up plan is %s: %.0f extra conversions needed",
			s.Calc.CatchUp.Feasibility, s.Calc.CatchUp.ExtraUnitsNeeded))
	}
	return &Evaluation{
		Title: fmt.Sprintf("%s is behind its goal", s.Goal.UnitName),
		Message: fmt.Sprintf("Progress is %.1f%% against an expected %.1f%% (%.1f pts, %s). %d days remaining.",
			p.ActualProgress, p.IdealProgress, p.Deviation, p.Status, p.DaysRemaining),
		Context: model.AlertContext{Kind: model.AlertGoalDeviation, Deviation: ctx},
		Actions: actions,
	}, nil
}

// evaluateHighCPL fires when the recent cost per conversion exceeds the target by the threshold.
func evaluateHighCPL(rule *model.AlertRule, s *Snapshot) (*Evaluation, error) {
	threshold := orFloat(rule.Thresholds.CPLIncreasePercent, defaultCPLIncreasePercent)
	minConv := orInt(rule.Thresholds.MinConversions, defaultMinConversions)
	cur := s.Calc.Current
	target := s.Goal.TargetCPL
	if target <= 0 || cur.UsedDefaultCPL || cur.TotalConversions < minConv {
		return nil, nil
	}
	increase := (cur.EffectiveCPL - target) / target * 100
	if increase < threshold {
		return nil, nil
	}

	return &Evaluation{
		Title: fmt.Sprintf("High cost per lead on %s", s.Goal.UnitName),
		Message: fmt.Sprintf("Cost per lead is %.2f against a target of %.2f (+%.0f%%) over the last %d days.",
			cur.EffectiveCPL, target, increase, cur.WindowDays),
		Context: model.AlertContext{Kind: model.AlertHighCPL, Cost: &model.CostContext{
			CurrentCPL:      cur.EffectiveCPL,
			TargetCPL:       target,
			IncreasePercent: increase,
			Threshold:       threshold,
			Conversions:     cur.TotalConversions,
		}},
		Actions: []string{
			"Pause the worst performing ads",
			"Narrow targeting to higher-intent audiences",
			"Review bid strategy and cost caps",
		},
	}, nil
}

// evaluateBudgetDepletion fires when most of the budget is spent but the goal is not.
func evaluateBudgetDepletion(rule *model.AlertRule, s *Snapshot) (*Evaluation, error) {
	budgetTh := orFloat(rule.Thresholds.BudgetUsedPercent, defaultBudgetUsedPercent)
	progressTh := orFloat(rule.Thresholds.GoalProgressPercent, defaultGoalProgressPercent)
	if s.Goal.MaxBudget <= 0 {
		return nil, nil
	}
	used := s.SpendToDate / s.Goal.MaxBudget * 100
	progress := s.Calc.Progress.ActualProgress
	if used < budgetTh || progress >= progressTh {
		return nil, nil
	}

	return &Evaluation{
		Title: fmt.Sprintf("Budget running out on %s", s.Goal.UnitName),
		Message: fmt.Sprintf("%.0f%% of the budget is spent (%.2f of %.2f) with only %.0f%% of the goal delivered.",
			used, s.SpendToDate, s.Goal.MaxBudget, progress),
		Context: model.AlertContext{Kind: model.AlertBudgetDepletion, Budget: &model.BudgetContext{
			SpendToDate:         s.SpendToDate,
			MaxBudget:           s.Goal.MaxBudget,
			BudgetUsedPercent:   used,
			GoalProgressPercent: progress,
			BudgetThreshold:     budgetTh,
			ProgressThreshold:   progressTh,
		}},
		Actions: []string{
			"Negotiate additional budget with the client",
			"Shift spend to the cheapest converting ads",
		},
	}, nil
}

// Quality and performance-anomaly rules are accepted but never fire yet.
func noopEvaluator(*model.AlertRule, *Snapshot) (*Evaluation, error) { return nil, nil }
