package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
)

// Detector runs the detection passes over insight records.
type Detector struct {
	gen TextGenerator
	now func() time.Time
	log zerolog.Logger
}

// NewDetector creates a Detector. gen may be nil, which disables the model-assisted pass.
func NewDetector(gen TextGenerator, now func() time.Time, log zerolog.Logger) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{gen: gen, now: now, log: log.With().Str("service", "anomaly").Logger()}
}

// Detect returns deduplicated anomalies ranked by severity then confidence.
// It never fails: any panic inside a pass yields an empty result.
func (d *Detector) Detect(ctx context.Context, records []model.InsightRecord, cfg Config) []model.DetectedAnomaly {
	return d.DetectWithDeliveries(ctx, records, nil, cfg)
}

// DetectWithDeliveries is Detect with stored deliveries added to the duplicate-lead check.
func (d *Detector) DetectWithDeliveries(ctx context.Context, records []model.InsightRecord, deliveries []model.DeliveryRecord,
	cfg Config) (out []model.DetectedAnomaly) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Int("records", len(records)).Msg("anomaly detection aborted")
			out = []model.DetectedAnomaly{}
		}
	}()

	cfg = cfg.withDefaults()
	th := ThresholdsFor(cfg.Sensitivity)
	now := d.now()

	var found []model.DetectedAnomaly
	found = append(found, statisticalPass(records, cfg, th, now)...)
	found = append(found, duplicatePass(records, deliveries, now)...)
	found = append(found, performanceDropPass(records, th, now)...)
	found = append(found, heuristicPass(records, cfg, now)...)

	if cfg.EnableModel && d.gen != nil && len(records) >= cfg.ModelMinSampleSize {
		res := d.ModelAssisted(ctx, records)
		if res.Failure != nil {
			d.log.Warn().Err(&model.DataQualityError{Source: "textgen", Reason: res.Failure.Reason}).
				Msg("model response unparseable, skipping model pass")
		}
		found = append(found, res.Anomalies...)
	}

	out = Rank(Deduplicate(found))
	d.log.Info().
		Int("records", len(records)).
		Int("deliveries", len(deliveries)).
		Int("anomalies", len(out)).
		Str("sensitivity", string(cfg.Sensitivity)).
		Msg("anomaly detection complete")
	return out
}

// ModelAssisted asks the text generator for anomalies and parses its answer.
func (d *Detector) ModelAssisted(ctx context.Context, records []model.InsightRecord) ModelResult {
	if d.gen == nil {
		return ModelResult{Failure: &ParseFailure{Reason: "no text generator configured"}}
	}
	raw, err := d.gen.Generate(ctx, BuildPrompt(records))
	if err != nil {
		return ModelResult{Failure: &ParseFailure{Reason: fmt.Sprintf("generate: %v", err)}}
	}
	return ParseModelResponse(raw, d.now())
}
