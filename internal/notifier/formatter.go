package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/model"
)

// HelpText lists the operator commands.
const HelpText = `🤖 <b>CampaignSentinel commands</b>

/cycle - run a monitoring cycle now
/status &lt;unit&gt; - goal progress and daily targets
/anomalies - scan the last 30 days for anomalies
/frequency &lt;unit&gt; - budget adjustment cap state
/sync - refresh platform insights
/help - this message`

// FormatCycleResult formats a monitoring cycle summary.
func FormatCycleResult(r *alerting.CycleResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔁 <b>Monitoring cycle</b> | %s\n\n", r.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Units checked: %d\n", r.UnitsChecked))
	b.WriteString(fmt.Sprintf("Alerts raised: %d\n", r.AlertsGenerated))
	b.WriteString(fmt.Sprintf("Alerts suppressed: %d\n", r.AlertsSuppressed))
	b.WriteString(fmt.Sprintf("Notifications sent: %d\n", r.NotificationsSent))
	b.WriteString(fmt.Sprintf("Duration: %s\n", r.Duration.Round(time.Millisecond)))
	if len(r.Errors) > 0 {
		b.WriteString(fmt.Sprintf("\n❗ <b>Errors (%d):</b>\n", len(r.Errors)))
		for i, e := range r.Errors {
			if i == 5 {
				b.WriteString(fmt.Sprintf("  … and %d more\n", len(r.Errors)-5))
				break
			}
			b.WriteString("  " + html.EscapeString(e) + "\n")
		}
	}
	return b.String()
}

// FormatAnomalyDigest formats detected anomalies, most severe first as given.
func FormatAnomalyDigest(found []model.DetectedAnomaly, at time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>Anomaly scan</b> | %s\n\n", at.Format("2006-01-02")))
	if len(found) == 0 {
		b.WriteString("No anomalies detected ✅")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("%d finding(s):\n\n", len(found)))
	for _, a := range found {
		b.WriteString(fmt.Sprintf("%s <b>%s</b> (%s, %.0f%%)\n",
			severityIcon[a.Severity], a.Type, a.Severity, a.Confidence*100))
		if len(a.AffectedUnits) > 0 {
			b.WriteString("   Units: " + html.EscapeString(strings.Join(a.AffectedUnits, ", ")) + "\n")
		}
		if a.Description != "" {
			b.WriteString("   " + html.EscapeString(a.Description) + "\n")
		}
		if len(a.Recommendations) > 0 {
			b.WriteString("   → " + html.EscapeString(a.Recommendations[0]) + "\n")
		}
	}
	return b.String()
}

// FormatCalculation formats a unit's progress and targets.
func FormatCalculation(c *model.CalculationResult) string {
	var b strings.Builder
	p := c.Progress
	b.WriteString(fmt.Sprintf("📊 <b>%s</b>\n\n", html.EscapeString(c.Goal.UnitName)))
	b.WriteString(fmt.Sprintf("Captured: %d / %d\n", c.Goal.VolumeCaptured, c.Goal.VolumeContracted))
	b.WriteString(fmt.Sprintf("Progress: %.1f%% (ideal %.1f%%, %+.1f%%)\n", p.ActualProgress, p.IdealProgress, p.Deviation))
	b.WriteString(fmt.Sprintf("Status: %s\n", p.Status))
	b.WriteString(fmt.Sprintf("Days: %d elapsed, %d remaining\n\n", p.DaysElapsed, p.DaysRemaining))

	b.WriteString("🎯 <b>Daily targets:</b>\n")
	b.WriteString(fmt.Sprintf("  Basic: %.1f (weekday %.1f, weekend %.1f)\n",
		c.Basic.DailyTarget, c.Basic.WeekdayTarget, c.Basic.WeekendTarget))
	b.WriteString(fmt.Sprintf("  Adjusted: %.1f (×%.2f, risk %s)\n",
		c.Adjusted.AdjustedDailyTarget, c.Adjusted.PerformanceFactor, c.Adjusted.RiskLevel))
	if !c.Adjusted.IsRealistic {
		b.WriteString(fmt.Sprintf("  ⚠️ above realistic ceiling %.1f\n", c.Adjusted.CapacityCeiling))
	}
	b.WriteString(fmt.Sprintf("  CPL: %.2f", c.Current.EffectiveCPL))
	if c.Current.UsedDefaultCPL {
		b.WriteString(" (default)")
	}
	b.WriteString("\n")

	if cu := c.CatchUp; cu != nil {
		b.WriteString("\n🏃 <b>Catch-up:</b>\n")
		b.WriteString(fmt.Sprintf("  Extra needed: %.0f (+%.1f/day, +%.0f%%)\n", cu.ExtraUnitsNeeded, cu.RequiredDailyBoost, cu.BoostPercent))
		b.WriteString(fmt.Sprintf("  Feasibility: %s\n", cu.Feasibility))
		b.WriteString(fmt.Sprintf("  Extra budget/day: %.2f\n", cu.EstimatedBudgetIncrease))
	}
	return b.String()
}

// FormatFrequency formats the budget adjustment cap state of a unit.
func FormatFrequency(unitID string, fc model.FrequencyCheck) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💰 <b>Budget adjustments</b> | %s\n\n", html.EscapeString(unitID)))
	b.WriteString(fmt.Sprintf("Last hour: %d\n", fc.AdjustmentsInHour))
	if fc.CanAdjust {
		b.WriteString(fmt.Sprintf("Remaining: %d ✅\n", fc.Remaining))
	} else {
		b.WriteString("Cap reached ⛔\n")
		if fc.NextAvailableTime != nil {
			b.WriteString(fmt.Sprintf("Next slot: %s\n", fc.NextAvailableTime.Format("15:04 MST")))
		}
	}
	return b.String()
}
