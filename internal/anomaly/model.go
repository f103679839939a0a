package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CampaignSentinel/internal/model"
)

// TextGenerator produces a free-text completion for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ParseFailure explains why a model response could not be used.
type ParseFailure struct {
	Reason string
	Raw    string
}

func (p *ParseFailure) Error() string { return "unparseable model response: " + p.Reason }

// ModelResult is the outcome of the model-assisted pass: either anomalies or a failure.
// An empty Anomalies with a nil Failure means the model found nothing.
type ModelResult struct {
	Anomalies []model.DetectedAnomaly
	Failure   *ParseFailure
}

type modelAnomaly struct {
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	AffectedUnits   []string `json:"affected_units"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

type modelResponse struct {
	Anomalies []modelAnomaly `json:"anomalies"`
}

// ParseModelResponse extracts the JSON object between the first '{' and the last '}'.
// Entries with an unknown type or severity are dropped.
func ParseModelResponse(raw string, now time.Time) ModelResult {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ModelResult{Failure: &ParseFailure{Reason: "no JSON object found", Raw: raw}}
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return ModelResult{Failure: &ParseFailure{Reason: err.Error(), Raw: raw}}
	}

	out := make([]model.DetectedAnomaly, 0, len(resp.Anomalies))
	for _, a := range resp.Anomalies {
		typ := model.AnomalyType(a.Type)
		sev := model.Severity(strings.ToLower(a.Severity))
		if !typ.Valid() || !sev.Valid() {
			continue
		}
		conf := a.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, model.DetectedAnomaly{
			Type:            typ,
			Severity:        sev,
			Confidence:      conf,
			AffectedUnits:   a.AffectedUnits,
			Description:     a.Description,
			Recommendations: a.Recommendations,
			DetectedAt:      now,
		})
	}
	return ModelResult{Anomalies: out}
}

// BuildPrompt summarises per-unit totals for the text generator.
func BuildPrompt(records []model.InsightRecord) string {
	var sb strings.Builder
	sb.WriteString("You review paid lead-generation campaigns for fraud and delivery problems.\n")
	sb.WriteString("Per-unit totals for the period:\n")
	for _, u := range aggregateUnits(records) {
		sb.WriteString(fmt.Sprintf("- %s: spend=%.2f conversions=%d clicks=%d cpl=%.2f quality=%.1f\n",
			u.label, u.spend, u.conversions, u.clicks, u.cpl(), u.quality()))
	}
	sb.WriteString("\nAnswer with JSON only: {\"anomalies\": [{\"type\": one of ")
	sb.WriteString("high_conversion_rate|suspicious_traffic|manual_conversions|duplicate_leads|cost_spike|")
	sb.WriteString("performance_drop|unusual_pattern|low_cost_suspicious|high_volume_suspicious|quality_drop|seasonal_anomaly, ")
	sb.WriteString("\"severity\": low|medium|high|critical, \"confidence\": 0..1, \"affected_units\": [names], ")
	sb.WriteString("\"description\": string, \"recommendations\": [strings]}]}\n")
	return sb.String()
}
