package calculator

import (
	"fmt"
	"math"

	"CampaignSentinel/internal/model"
)

// ClassifyFeasibility maps a progress deficit (percentage points) to a feasibility tier.
func ClassifyFeasibility(deficit float64) model.Feasibility {
	switch {
	case deficit < 20:
		return model.FeasibilityEasy
	case deficit < 40:
		return model.FeasibilityChallenging
	case deficit < 60:
		return model.FeasibilityDifficult
	default:
		return model.FeasibilityImpossible
	}
}

func catchUpPlan(goal *model.Goal, res *model.CalculationResult, threshold float64) *model.CatchUpPlan {
	dev := res.Progress.Deviation
	if dev > -threshold {
		return nil
	}
	deficit := -dev
	extra := deficit / 100 * float64(goal.VolumeContracted)
	days := res.Progress.DaysRemaining
	if days < 1 {
		days = 1
	}
	boost := extra / float64(days)

	plan := &model.CatchUpPlan{
		DeficitPercent:     deficit,
		ExtraUnitsNeeded:   extra,
		RequiredDailyBoost: boost,
	}
	if res.Basic.DailyTarget > 0 {
		plan.BoostPercent = boost / res.Basic.DailyTarget * 100
	}
	plan.Feasibility = ClassifyFeasibility(deficit)
	plan.EstimatedBudgetIncrease = boost * res.Current.EffectiveCPL
	return plan
}

func capacityAnalysis(res *model.CalculationResult, multiplier float64) model.CapacityAnalysis {
	ca := model.CapacityAnalysis{
		TheoreticalMaxDaily: res.Historical.MaxDaily * 2,
		RealisticMaxDaily:   res.Historical.MeanDaily * multiplier,
	}
	if ca.RealisticMaxDaily > 0 {
		ca.UtilizationPercent = math.Min(100, res.Adjusted.AdjustedDailyTarget/ca.RealisticMaxDaily*100)
	}
	return ca
}

// Utilisation above which a capacity alert is raised.
const capacityAlertPercent = 90

func generateAlerts(res *model.CalculationResult) []model.CalculationAlert {
	var alerts []model.CalculationAlert
	p := res.Progress

	if p.Status.IsBehind() {
		sev := model.SeverityMedium
		switch p.Status {
		case model.StatusCriticalDelay:
			sev = model.SeverityCritical
		case model.StatusSignificantlyBehind:
			sev = model.SeverityHigh
		}
		actions := []string{"Review targeting and creatives", "Consider a budget increase"}
		if res.CatchUp != nil {
			actions = append(actions, fmt.Sprintf("Deliver %.1f extra units per day to recover", res.CatchUp.RequiredDailyBoost))
		}
		alerts = append(alerts, model.CalculationAlert{
			Kind:     model.CalcAlertBehindSchedule,
			Severity: sev,
			Message: fmt.Sprintf("Progress %.1f%% vs ideal %.1f%% (deviation %.1f pts)",
				p.ActualProgress, p.IdealProgress, p.Deviation),
			SuggestedActions: actions,
		})
	}

	if !res.Adjusted.IsRealistic {
		alerts = append(alerts, model.CalculationAlert{
			Kind:     model.CalcAlertUnrealisticTarget,
			Severity: model.SeverityHigh,
			Message: fmt.Sprintf("Adjusted daily target %.1f exceeds capacity ceiling %.1f",
				res.Adjusted.AdjustedDailyTarget, res.Adjusted.CapacityCeiling),
			SuggestedActions: []string{"Renegotiate the contracted volume or deadline", "Add delivery capacity"},
		})
	}

	if res.Capacity.UtilizationPercent > capacityAlertPercent {
		alerts = append(alerts, model.CalculationAlert{
			Kind:             model.CalcAlertCapacityExceeded,
			Severity:         model.SeverityMedium,
			Message:          fmt.Sprintf("Capacity utilisation at %.0f%%", res.Capacity.UtilizationPercent),
			SuggestedActions: []string{"Monitor delivery closely", "Prepare additional channels"},
		})
	}
	return alerts
}
