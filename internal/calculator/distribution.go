package calculator

import (
	"time"

	"CampaignSentinel/internal/model"
)

func basicDistribution(goal *model.Goal, today time.Time, daysRemaining int, weekendFactor float64) model.BasicDistribution {
	remaining := goal.Remaining()
	divisor := daysRemaining
	if divisor < 1 {
		divisor = 1
	}

	bd := model.BasicDistribution{
		RemainingVolume: remaining,
		DaysRemaining:   daysRemaining,
		DailyTarget:     float64(remaining) / float64(divisor),
	}

	for i := 0; i < daysRemaining; i++ {
		switch today.AddDate(0, 0, i).Weekday() {
		case time.Saturday, time.Sunday:
			bd.WeekendDaysLeft++
		default:
			bd.WeekdaysLeft++
		}
	}
	weighted := float64(bd.WeekdaysLeft) + float64(bd.WeekendDaysLeft)*weekendFactor
	if weighted > 0 {
		bd.WeekdayTarget = float64(remaining) / weighted
	} else {
		bd.WeekdayTarget = bd.DailyTarget
	}
	bd.WeekendTarget = bd.WeekdayTarget * weekendFactor
	return bd
}

// Bounds of the cost-driven performance factor.
const (
	minPerformanceFactor = 0.8
	maxPerformanceFactor = 1.3
)

func adjustedDistribution(goal *model.Goal, res *model.CalculationResult, opts Options) model.AdjustedDistribution {
	baseline := goal.TargetCPL
	if baseline <= 0 {
		baseline = opts.DefaultCPL
	}
	factor := 1.0
	if !res.Current.UsedDefaultCPL && baseline > 0 {
		factor = clamp(res.Current.EffectiveCPL/baseline, minPerformanceFactor, maxPerformanceFactor)
	}

	ad := model.AdjustedDistribution{PerformanceFactor: factor}
	ad.AdjustedDailyTarget = res.Basic.DailyTarget * factor
	if ad.AdjustedDailyTarget < 0 {
		ad.AdjustedDailyTarget = 0
	}

	mean := res.Historical.MeanDaily
	ad.CapacityCeiling = mean * opts.CapacityMultiplier
	ad.CappedDailyTarget = ad.AdjustedDailyTarget
	if mean > 0 && ad.AdjustedDailyTarget > ad.CapacityCeiling {
		ad.CappedDailyTarget = ad.CapacityCeiling
	}
	// Without history there is nothing to measure against.
	ad.IsRealistic = mean <= 0 || ad.AdjustedDailyTarget <= ad.CapacityCeiling

	ad.Confidence = confidenceScore(res.Historical, ad.IsRealistic)
	ad.RiskLevel = riskLevel(res.Progress.Status, ad.IsRealistic)
	return ad
}

func confidenceScore(h model.HistoricalPerformance, realistic bool) float64 {
	score := 0.5
	if h.DataPoints >= 50 {
		score += 0.2
	}
	if h.MeanDaily > 0 && h.StdDev/h.MeanDaily < 0.5 {
		score += 0.1
	}
	if h.Trend == model.TrendImproving {
		score += 0.1
	}
	if realistic {
		score += 0.1
	} else {
		score -= 0.2
	}
	return clamp(score, 0, 1)
}

func riskLevel(status model.ProgressStatus, realistic bool) model.RiskLevel {
	switch {
	case !realistic && status == model.StatusCriticalDelay:
		return model.RiskCritical
	case !realistic || status == model.StatusCriticalDelay:
		return model.RiskHigh
	case status.IsBehind():
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
