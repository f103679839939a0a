package model

import "time"

// DeliveryRecord is one delivered conversion (lead).
type DeliveryRecord struct {
	UnitID      string
	DeliveredAt time.Time
	DedupKey    string // contact email when known
}

// InsightRecord is one day of platform delivery for a unit.
type InsightRecord struct {
	UnitID       string    `json:"unit_id"`
	UnitName     string    `json:"unit_name"`
	Date         time.Time `json:"date"`
	Spend        float64   `json:"spend"`
	Conversions  int       `json:"conversions"`
	Clicks       int       `json:"clicks"`
	Impressions  int       `json:"impressions"`
	QualityScore float64   `json:"quality_score,omitempty"` // 0..10, 0 = unknown
	ContactEmail string    `json:"contact_email,omitempty"`
}

// CPL returns the cost per conversion of the record, 0 when nothing converted.
func (r InsightRecord) CPL() float64 {
	if r.Conversions == 0 {
		return 0
	}
	return r.Spend / float64(r.Conversions)
}

// ConversionRate returns conversions per click, 0 when there were no clicks.
func (r InsightRecord) ConversionRate() float64 {
	if r.Clicks == 0 {
		return 0
	}
	return float64(r.Conversions) / float64(r.Clicks)
}
