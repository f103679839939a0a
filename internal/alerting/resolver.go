package alerting

import (
	"sort"

	"CampaignSentinel/internal/model"
)

// Tier priorities; higher wins.
const (
	tierNone = iota
	tierGlobal
	tierParent
	tierUnit
)

func matchTier(r *model.AlertRule, g *model.Goal) int {
	switch r.Scope() {
	case model.ScopeUnit:
		if r.UnitID == g.UnitID {
			return tierUnit
		}
	case model.ScopeParent:
		if g.ParentID != "" && r.ParentID == g.ParentID {
			return tierParent
		}
	case model.ScopeGlobal:
		return tierGlobal
	}
	return tierNone
}

// ResolveRules selects, for every alert type, the active rules of the most specific
// tier that matches the goal: unit rules override parent rules, which override global ones.
// The result is ordered by rule ID.
func ResolveRules(rules []model.AlertRule, g *model.Goal) []model.AlertRule {
	bestTier := make(map[model.AlertType]int)
	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		if t := matchTier(r, g); t > bestTier[r.Type] {
			bestTier[r.Type] = t
		}
	}

	var out []model.AlertRule
	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		if t := matchTier(r, g); t != tierNone && t == bestTier[r.Type] {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
