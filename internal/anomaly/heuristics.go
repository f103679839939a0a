package anomaly

import (
	"fmt"
	"strings"
	"time"

	"CampaignSentinel/internal/model"
)

// Benchmark is the expected economics of a vertical.
type Benchmark struct {
	Vertical       string
	Keywords       []string
	MinCPL         float64
	MaxCPL         float64
	ConversionRate float64
}

// Benchmarks are matched in order; the last entry is the fallback.
var Benchmarks = []Benchmark{
	{Vertical: "real_estate", Keywords: []string{"imovel", "imóvel", "imoveis", "imóveis", "residencial", "apartamento", "real estate", "condo"}, MinCPL: 15, MaxCPL: 80, ConversionRate: 0.02},
	{Vertical: "health", Keywords: []string{"clinica", "clínica", "saude", "saúde", "health", "dental", "odonto", "medic"}, MinCPL: 10, MaxCPL: 60, ConversionRate: 0.04},
	{Vertical: "education", Keywords: []string{"curso", "escola", "educa", "faculdade", "course", "school"}, MinCPL: 8, MaxCPL: 45, ConversionRate: 0.05},
	{Vertical: "automotive", Keywords: []string{"auto", "carro", "veiculo", "veículo", "motor", "car "}, MinCPL: 20, MaxCPL: 100, ConversionRate: 0.015},
	{Vertical: "finance", Keywords: []string{"credito", "crédito", "financ", "seguro", "loan", "insurance", "bank"}, MinCPL: 12, MaxCPL: 70, ConversionRate: 0.03},
	{Vertical: "generic", MinCPL: 5, MaxCPL: 50, ConversionRate: 0.03},
}

// BenchmarkFor picks the first bucket whose keyword appears in the unit name.
func BenchmarkFor(unitName string) Benchmark {
	name := strings.ToLower(unitName)
	for _, b := range Benchmarks {
		for _, kw := range b.Keywords {
			if strings.Contains(name, kw) {
				return b
			}
		}
	}
	return Benchmarks[len(Benchmarks)-1]
}

type unitTotals struct {
	label        string
	spend        float64
	conversions  int
	clicks       int
	qualitySum   float64
	qualityCount int
	latest       time.Time
}

func (u *unitTotals) cpl() float64 {
	if u.conversions == 0 {
		return 0
	}
	return u.spend / float64(u.conversions)
}

func (u *unitTotals) quality() float64 {
	if u.qualityCount == 0 {
		return 0
	}
	return u.qualitySum / float64(u.qualityCount)
}

func aggregateUnits(records []model.InsightRecord) []*unitTotals {
	idx := make(map[string]*unitTotals)
	var out []*unitTotals
	for _, r := range records {
		label := unitLabel(r)
		u, ok := idx[label]
		if !ok {
			u = &unitTotals{label: label}
			idx[label] = u
			out = append(out, u)
		}
		u.spend += r.Spend
		u.conversions += r.Conversions
		u.clicks += r.Clicks
		if r.QualityScore > 0 {
			u.qualitySum += r.QualityScore
			u.qualityCount++
		}
		if r.Date.After(u.latest) {
			u.latest = r.Date
		}
	}
	return out
}

// Heuristic limits.
const (
	lowCostFactor    = 0.5
	highVolumeFactor = 3.0
	qualityFloor     = 3.0
)

func heuristicPass(records []model.InsightRecord, cfg Config, now time.Time) []model.DetectedAnomaly {
	units := aggregateUnits(records)
	if len(units) == 0 {
		return nil
	}
	totalConv := 0
	for _, u := range units {
		totalConv += u.conversions
	}
	avgConv := float64(totalConv) / float64(len(units))

	var out []model.DetectedAnomaly
	for _, u := range units {
		b := BenchmarkFor(u.label)

		if cpl := u.cpl(); u.conversions > 0 && cpl < b.MinCPL*lowCostFactor {
			out = append(out, model.DetectedAnomaly{
				Type:          model.AnomalyLowCostSuspicious,
				Severity:      model.SeverityHigh,
				Confidence:    0.75,
				AffectedUnits: []string{u.label},
				Description:   fmt.Sprintf("Cost per lead %.2f is far below the %s floor of %.2f", cpl, b.Vertical, b.MinCPL),
				Metrics:       model.AnomalyMetrics{Observed: cpl, Benchmark: b.MinCPL},
				Recommendations: []string{
					"Check for incentivised or fraudulent traffic sources",
					"Sample recent leads for contact validity",
				},
				DetectedAt: now,
			})
		}

		if avgConv > 0 && float64(u.conversions) > avgConv*highVolumeFactor {
			out = append(out, model.DetectedAnomaly{
				Type:          model.AnomalyHighVolumeSuspicious,
				Severity:      model.SeverityMedium,
				Confidence:    0.7,
				AffectedUnits: []string{u.label},
				Description:   fmt.Sprintf("%d conversions against a cross-unit average of %.1f", u.conversions, avgConv),
				Metrics:       model.AnomalyMetrics{Observed: float64(u.conversions), Mean: avgConv, SampleSize: len(units)},
				Recommendations: []string{
					"Look for bot submissions on the lead form",
					"Add a captcha or verification step",
				},
				DetectedAt: now,
			})
		}

		if q := u.quality(); q > 0 && q < qualityFloor {
			out = append(out, model.DetectedAnomaly{
				Type:            model.AnomalyQualityDrop,
				Severity:        model.SeverityMedium,
				Confidence:      0.7,
				AffectedUnits:   []string{u.label},
				Description:     fmt.Sprintf("Average lead quality %.1f is below %.1f", q, qualityFloor),
				Metrics:         model.AnomalyMetrics{Observed: q, Benchmark: qualityFloor},
				Recommendations: []string{"Tighten targeting", "Add qualifying questions to the form"},
				DetectedAt:      now,
			})
		}

		if u.clicks > 0 && !u.latest.IsZero() && cfg.lowSeason(u.latest.Month()) {
			rate := float64(u.conversions) / float64(u.clicks)
			if rate > b.ConversionRate {
				out = append(out, model.DetectedAnomaly{
					Type:          model.AnomalySeasonal,
					Severity:      model.SeverityLow,
					Confidence:    0.6,
					AffectedUnits: []string{u.label},
					Description: fmt.Sprintf("Conversion rate %.1f%% beats the %s benchmark of %.1f%% during low season",
						rate*100, b.Vertical, b.ConversionRate*100),
					Metrics: model.AnomalyMetrics{Observed: rate, Benchmark: b.ConversionRate},
					Recommendations: []string{
						"Find out what is driving off-season demand",
						"Consider shifting budget towards this unit",
					},
					DetectedAt: now,
				})
			}
		}
	}
	return out
}
