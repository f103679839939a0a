package anomaly

import (
	"fmt"
	"math"
	"time"

	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/model"
)

// statisticalPass flags records whose conversion rate, click-through rate or spend
// sits more than k standard deviations above the sample mean.
func statisticalPass(records []model.InsightRecord, cfg Config, th Thresholds, now time.Time) []model.DetectedAnomaly {
	if len(records) < cfg.MinSampleSize {
		return nil
	}

	var rates, ctrs, spend []float64
	for _, r := range records {
		spend = append(spend, r.Spend)
		if r.Clicks > 0 {
			rates = append(rates, r.ConversionRate())
		}
		if r.Impressions > 0 {
			ctrs = append(ctrs, float64(r.Clicks)/float64(r.Impressions))
		}
	}
	rateMean, rateSD := calculator.MeanStdDev(rates)
	ctrMean, ctrSD := calculator.MeanStdDev(ctrs)
	spendMean, spendSD := calculator.MeanStdDev(spend)

	var out []model.DetectedAnomaly
	for _, r := range records {
		if r.Clicks > 0 {
			rate := r.ConversionRate()
			z := zScore(rate, rateMean, rateSD)
			overAbs := rate > th.MaxConversionRate
			if overAbs || (rateSD > 0 && z > th.DeviationK) {
				sev := model.SeverityMedium
				if overAbs || z > th.DeviationK+1 {
					sev = model.SeverityHigh
				}
				out = append(out, model.DetectedAnomaly{
					Type:          model.AnomalyHighConversionRate,
					Severity:      sev,
					Confidence:    zConfidence(z, overAbs),
					AffectedUnits: []string{unitLabel(r)},
					Description: fmt.Sprintf("Conversion rate %.1f%% on %s against a mean of %.1f%%",
						rate*100, r.Date.Format("2006-01-02"), rateMean*100),
					Metrics: model.AnomalyMetrics{
						Observed: rate, Expected: th.MaxConversionRate, Mean: rateMean, StdDev: rateSD,
						ZScore: z, SampleSize: len(rates),
					},
					Recommendations: []string{
						"Verify conversion tracking and pixel firing",
						"Audit the leads for fake or test submissions",
					},
					DetectedAt: now,
				})
			}
		}

		if r.Impressions > 0 && ctrSD > 0 {
			ctr := float64(r.Clicks) / float64(r.Impressions)
			if z := zScore(ctr, ctrMean, ctrSD); z > th.DeviationK {
				out = append(out, model.DetectedAnomaly{
					Type:          model.AnomalySuspiciousTraffic,
					Severity:      model.SeverityMedium,
					Confidence:    zConfidence(z, false),
					AffectedUnits: []string{unitLabel(r)},
					Description:   fmt.Sprintf("Click-through rate %.2f%% far above the %.2f%% mean", ctr*100, ctrMean*100),
					Metrics: model.AnomalyMetrics{
						Observed: ctr, Mean: ctrMean, StdDev: ctrSD, ZScore: z, SampleSize: len(ctrs),
					},
					Recommendations: []string{"Check placements for click farms", "Exclude low-quality audience networks"},
					DetectedAt:      now,
				})
			}
		}

		if spendSD > 0 {
			if z := zScore(r.Spend, spendMean, spendSD); z > th.DeviationK {
				out = append(out, model.DetectedAnomaly{
					Type:          model.AnomalyCostSpike,
					Severity:      model.SeverityHigh,
					Confidence:    zConfidence(z, false),
					AffectedUnits: []string{unitLabel(r)},
					Description:   fmt.Sprintf("Spend %.2f on %s against a mean of %.2f", r.Spend, r.Date.Format("2006-01-02"), spendMean),
					Metrics: model.AnomalyMetrics{
						Observed: r.Spend, Mean: spendMean, StdDev: spendSD, ZScore: z, SampleSize: len(spend),
						ChangePercent: (r.Spend - spendMean) / spendMean * 100,
					},
					Recommendations: []string{"Review recent bid and budget changes", "Check for auction competition spikes"},
					DetectedAt:      now,
				})
			}
		}
	}
	return out
}

func zScore(v, mean, sd float64) float64 {
	if sd == 0 {
		return 0
	}
	return (v - mean) / sd
}

// zConfidence grows with the distance from the mean, bounded to [0.5, 0.95].
func zConfidence(z float64, absolute bool) float64 {
	c := 0.5 + math.Max(0, z)*0.1
	if absolute {
		c = math.Max(c, 0.8)
	}
	return math.Min(0.95, c)
}

func unitLabel(r model.InsightRecord) string {
	if r.UnitName != "" {
		return r.UnitName
	}
	return r.UnitID
}
