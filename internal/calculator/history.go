package calculator

import (
	"time"

	"CampaignSentinel/internal/model"
)

// Relative change between the halves of the series that counts as a trend.
const trendThreshold = 0.10

// summariseHistory buckets deliveries into completed days in [start, today),
// zero-filling days without deliveries.
func summariseHistory(recs []model.DeliveryRecord, start, today time.Time, lookback int) model.HistoricalPerformance {
	days := daysBetween(start, today)
	hp := model.HistoricalPerformance{LookbackDays: lookback, Trend: model.TrendStable}
	if days <= 0 {
		return hp
	}

	series := make([]float64, days)
	for _, r := range recs {
		idx := daysBetween(start, r.DeliveredAt)
		if r.DeliveredAt.Before(start) || idx < 0 || idx >= days {
			continue
		}
		series[idx]++
		hp.DataPoints++
	}

	hp.DailySeries = series
	hp.MeanDaily, hp.StdDev = MeanStdDev(series)
	hp.MinDaily, hp.MaxDaily = Range(series)

	var weekday, weekend []float64
	for i, v := range series {
		switch start.AddDate(0, 0, i).Weekday() {
		case time.Saturday, time.Sunday:
			weekend = append(weekend, v)
		default:
			weekday = append(weekday, v)
		}
	}
	if wd := Mean(weekday); wd > 0 {
		hp.WeekendWeekdayRate = Mean(weekend) / wd
	}

	hp.Trend = seriesTrend(series)
	return hp
}

// seriesTrend compares the mean of the first and last halves of the series.
// The middle element of an odd-length series belongs to neither half.
func seriesTrend(series []float64) model.Trend {
	n := len(series)
	if n < 2 {
		return model.TrendStable
	}
	half := n / 2
	first := Mean(series[:half])
	second := Mean(series[n-half:])
	if first == 0 {
		if second > 0 {
			return model.TrendImproving
		}
		return model.TrendStable
	}
	change := (second - first) / first
	switch {
	case change > trendThreshold:
		return model.TrendImproving
	case change < -trendThreshold:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}
