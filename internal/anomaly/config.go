package anomaly

import (
	"time"

	"CampaignSentinel/internal/model"
)

// Config controls one detection run.
type Config struct {
	Sensitivity        model.Sensitivity `yaml:"sensitivity"`
	MinSampleSize      int               `yaml:"min_sample_size"`
	ModelMinSampleSize int               `yaml:"model_min_sample_size"`
	EnableModel        bool              `yaml:"enable_model"`
	LowSeasonMonths    []time.Month      `yaml:"low_season_months"`
}

// DefaultConfig returns medium sensitivity with the model pass disabled.
func DefaultConfig() Config {
	return Config{
		Sensitivity:        model.SensitivityMedium,
		MinSampleSize:      5,
		ModelMinSampleSize: 20,
		LowSeasonMonths:    []time.Month{time.December, time.January},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Sensitivity == "" {
		c.Sensitivity = d.Sensitivity
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = d.MinSampleSize
	}
	if c.ModelMinSampleSize <= 0 {
		c.ModelMinSampleSize = d.ModelMinSampleSize
	}
	if c.LowSeasonMonths == nil {
		c.LowSeasonMonths = d.LowSeasonMonths
	}
	return c
}

func (c Config) lowSeason(m time.Month) bool {
	for _, lm := range c.LowSeasonMonths {
		if lm == m {
			return true
		}
	}
	return false
}

// Thresholds are the numeric limits of a sensitivity tier.
type Thresholds struct {
	DeviationK        float64 // multiples of stddev above the mean
	DropThreshold     float64 // relative performance drop, 0..1
	MaxConversionRate float64 // absolute conversion-rate ceiling, 0..1
}

// ThresholdsFor maps a sensitivity tier to its limits. Unknown tiers fall back to medium.
func ThresholdsFor(s model.Sensitivity) Thresholds {
	switch s {
	case model.SensitivityLow:
		return Thresholds{DeviationK: 3.0, DropThreshold: 0.4, MaxConversionRate: 0.5}
	case model.SensitivityHigh:
		return Thresholds{DeviationK: 2.0, DropThreshold: 0.2, MaxConversionRate: 0.3}
	default:
		return Thresholds{DeviationK: 2.5, DropThreshold: 0.3, MaxConversionRate: 0.4}
	}
}
