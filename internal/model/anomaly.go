package model

import "time"

// AnomalyType enumerates everything the detector can flag.
type AnomalyType string

const (
	AnomalyHighConversionRate   AnomalyType = "high_conversion_rate"
	AnomalySuspiciousTraffic    AnomalyType = "suspicious_traffic"
	AnomalyManualConversions    AnomalyType = "manual_conversions"
	AnomalyDuplicateLeads       AnomalyType = "duplicate_leads"
	AnomalyCostSpike            AnomalyType = "cost_spike"
	AnomalyPerformanceDrop      AnomalyType = "performance_drop"
	AnomalyUnusualPattern       AnomalyType = "unusual_pattern"
	AnomalyLowCostSuspicious    AnomalyType = "low_cost_suspicious"
	AnomalyHighVolumeSuspicious AnomalyType = "high_volume_suspicious"
	AnomalyQualityDrop          AnomalyType = "quality_drop"
	AnomalySeasonal             AnomalyType = "seasonal_anomaly"
)

var anomalyTypes = map[AnomalyType]bool{
	AnomalyHighConversionRate: true, AnomalySuspiciousTraffic: true, AnomalyManualConversions: true,
	AnomalyDuplicateLeads: true, AnomalyCostSpike: true, AnomalyPerformanceDrop: true,
	AnomalyUnusualPattern: true, AnomalyLowCostSuspicious: true, AnomalyHighVolumeSuspicious: true,
	AnomalyQualityDrop: true, AnomalySeasonal: true,
}

// Valid reports whether t is a known anomaly type.
func (t AnomalyType) Valid() bool { return anomalyTypes[t] }

// Severity is shared by anomalies, alerts and alert rules.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Sensitivity selects the detector threshold tier.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// AnomalyMetrics is the numeric snapshot captured with an anomaly.
// Only the fields relevant to the anomaly type are set.
type AnomalyMetrics struct {
	Observed       float64 `json:"observed,omitempty"`
	Expected       float64 `json:"expected,omitempty"`
	Mean           float64 `json:"mean,omitempty"`
	StdDev         float64 `json:"std_dev,omitempty"`
	ZScore         float64 `json:"z_score,omitempty"`
	ChangePercent  float64 `json:"change_pct,omitempty"`
	Benchmark      float64 `json:"benchmark,omitempty"`
	DuplicateCount int     `json:"duplicate_count,omitempty"`
	SampleSize     int     `json:"sample_size,omitempty"`
}

// DetectedAnomaly is one finding of a detection pass.
type DetectedAnomaly struct {
	Type            AnomalyType    `json:"type"`
	Severity        Severity       `json:"severity"`
	Confidence      float64        `json:"confidence"`
	AffectedUnits   []string       `json:"affected_units"`
	Description     string         `json:"description"`
	Metrics         AnomalyMetrics `json:"metrics"`
	Recommendations []string       `json:"recommendations"`
	DetectedAt      time.Time      `json:"detected_at"`
}
