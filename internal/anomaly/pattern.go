package anomaly

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/model"
)

// duplicatePass flags contact emails seen on more than one lead. Leads come from
// records carrying a contact email and from stored deliveries with a dedup key.
func duplicatePass(records []model.InsightRecord, deliveries []model.DeliveryRecord, now time.Time) []model.DetectedAnomaly {
	seen := make(map[string]int)
	units := make(map[string]map[string]bool)
	withEmail := 0
	add := func(email, unit string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return
		}
		withEmail++
		seen[email]++
		if units[email] == nil {
			units[email] = make(map[string]bool)
		}
		units[email][unit] = true
	}

	names := make(map[string]string)
	for _, r := range records {
		if r.UnitName != "" {
			names[r.UnitID] = r.UnitName
		}
		add(r.ContactEmail, unitLabel(r))
	}
	for _, d := range deliveries {
		label := d.UnitID
		if n, ok := names[d.UnitID]; ok {
			label = n
		}
		add(d.DedupKey, label)
	}

	dups := 0
	affected := make(map[string]bool)
	for email, n := range seen {
		if n < 2 {
			continue
		}
		dups += n - 1
		for u := range units[email] {
			affected[u] = true
		}
	}
	if dups == 0 {
		return nil
	}

	ratio := float64(dups) / float64(withEmail)
	sev := model.SeverityMedium
	if ratio > 0.1 {
		sev = model.SeverityHigh
	}
	list := make([]string, 0, len(affected))
	for u := range affected {
		list = append(list, u)
	}
	sort.Strings(list)

	return []model.DetectedAnomaly{{
		Type:          model.AnomalyDuplicateLeads,
		Severity:      sev,
		Confidence:    0.9,
		AffectedUnits: list,
		Description:   fmt.Sprintf("%d duplicate leads (%.0f%% of identified leads)", dups, ratio*100),
		Metrics:       model.AnomalyMetrics{DuplicateCount: dups, Observed: ratio, SampleSize: withEmail},
		Recommendations: []string{
			"Enable duplicate filtering on the lead form",
			"Check the CRM integration for double submissions",
		},
		DetectedAt: now,
	}}
}

// Share of the series compared at each end.
const dropWindow = 0.3

// Shortest per-unit series worth comparing.
const minDropSeries = 4

// PerformanceDrop compares the mean of the last 30% of a time-ordered series with the first 30%.
// It returns the relative drop (0.3 = 30% lower) and whether it reaches threshold.
func PerformanceDrop(series []float64, threshold float64) (float64, bool) {
	if len(series) < minDropSeries {
		return 0, false
	}
	n := int(float64(len(series)) * dropWindow)
	if n < 1 {
		n = 1
	}
	first := calculator.Mean(series[:n])
	last := calculator.Mean(series[len(series)-n:])
	if first <= 0 {
		return 0, false
	}
	drop := (first - last) / first
	return drop, drop >= threshold-1e-9
}

func performanceDropPass(records []model.InsightRecord, th Thresholds, now time.Time) []model.DetectedAnomaly {
	byUnit := make(map[string][]model.InsightRecord)
	var order []string
	for _, r := range records {
		label := unitLabel(r)
		if _, ok := byUnit[label]; !ok {
			order = append(order, label)
		}
		byUnit[label] = append(byUnit[label], r)
	}

	var out []model.DetectedAnomaly
	for _, label := range order {
		recs := byUnit[label]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
		series := make([]float64, len(recs))
		for i, r := range recs {
			series[i] = float64(r.Conversions)
		}
		drop, flagged := PerformanceDrop(series, th.DropThreshold)
		if !flagged {
			continue
		}
		sev := model.SeverityMedium
		if drop >= 0.5 {
			sev = model.SeverityHigh
		}
		out = append(out, model.DetectedAnomaly{
			Type:          model.AnomalyPerformanceDrop,
			Severity:      sev,
			Confidence:    min(0.95, 0.6+drop/2),
			AffectedUnits: []string{label},
			Description:   fmt.Sprintf("Conversions dropped %.0f%% between the start and end of the period", drop*100),
			Metrics: model.AnomalyMetrics{
				ChangePercent: -drop * 100,
				Expected:      th.DropThreshold * 100,
				SampleSize:    len(series),
			},
			Recommendations: []string{
				"Refresh creatives showing fatigue",
				"Compare audience and placement changes over the period",
			},
			DetectedAt: now,
		})
	}
	return out
}
