package anomaly

import (
	"sort"
	"strings"

	"CampaignSentinel/internal/model"
)

func dedupKey(a model.DetectedAnomaly) string {
	units := append([]string(nil), a.AffectedUnits...)
	sort.Strings(units)
	return string(a.Type) + "|" + strings.Join(units, ",")
}

// Deduplicate collapses anomalies sharing a type and affected-unit set, in any order.
// The highest severity, then highest confidence, entry survives in first-seen position.
func Deduplicate(in []model.DetectedAnomaly) []model.DetectedAnomaly {
	idx := make(map[string]int, len(in))
	out := make([]model.DetectedAnomaly, 0, len(in))
	for _, a := range in {
		k := dedupKey(a)
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, a)
			continue
		}
		if outranks(a, out[i]) {
			out[i] = a
		}
	}
	return out
}

// Rank sorts by severity descending, then confidence descending.
func Rank(in []model.DetectedAnomaly) []model.DetectedAnomaly {
	sort.SliceStable(in, func(i, j int) bool { return outranks(in[i], in[j]) })
	return in
}

func outranks(a, b model.DetectedAnomaly) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Confidence > b.Confidence
}
