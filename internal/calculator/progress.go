package calculator

import (
	"time"

	"CampaignSentinel/internal/model"
)

// Deviation boundaries of the progress classification, in percentage points.
const (
	criticalDelayAt       = -30.0
	significantlyBehindAt = -15.0
	slightlyBehindAt      = -5.0
	aheadAt               = 10.0
)

// ClassifyProgress maps a deviation (actual − ideal progress %) to a status.
func ClassifyProgress(deviation float64) model.ProgressStatus {
	switch {
	case deviation <= criticalDelayAt:
		return model.StatusCriticalDelay
	case deviation <= significantlyBehindAt:
		return model.StatusSignificantlyBehind
	case deviation <= slightlyBehindAt:
		return model.StatusSlightlyBehind
	case deviation < aheadAt:
		return model.StatusOnTrack
	default:
		return model.StatusAheadOfSchedule
	}
}

func progressMetrics(goal *model.Goal, today time.Time) model.ProgressMetrics {
	total := daysBetween(goal.ContractStart, goal.ContractEnd)
	if total < 1 {
		total = 1
	}
	elapsed := daysBetween(goal.ContractStart, today)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	remaining := daysBetween(today, goal.ContractEnd)
	if remaining < 0 {
		remaining = 0
	}

	pm := model.ProgressMetrics{TotalDays: total, DaysElapsed: elapsed, DaysRemaining: remaining}
	if goal.VolumeContracted > 0 {
		pm.ActualProgress = float64(goal.VolumeCaptured) / float64(goal.VolumeContracted) * 100
	}
	pm.IdealProgress = float64(elapsed) / float64(total) * 100
	pm.Deviation = pm.ActualProgress - pm.IdealProgress
	pm.Status = ClassifyProgress(pm.Deviation)
	return pm
}
