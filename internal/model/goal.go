package model

import "time"

// Goal is the contracted delivery target of one unit (ad set).
type Goal struct {
	UnitID           string    `json:"unit_id"`
	UnitName         string    `json:"unit_name"`
	ParentID         string    `json:"parent_id,omitempty"` // owning campaign
	VolumeContracted int       `json:"volume_contracted"`
	VolumeCaptured   int       `json:"volume_captured"`
	ContractStart    time.Time `json:"contract_start_date"`
	ContractEnd      time.Time `json:"contract_end_date"`
	TargetCPL        float64   `json:"target_cpl"`
	MaxBudget        float64   `json:"max_budget"`
}

// Remaining returns how many conversions are still owed, never negative.
func (g *Goal) Remaining() int {
	if r := g.VolumeContracted - g.VolumeCaptured; r > 0 {
		return r
	}
	return 0
}
