package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CampaignSentinel/internal/model"
)

// FakeClient is an in-memory platform used by tests and local runs.
type FakeClient struct {
	mu          sync.Mutex
	units       map[string]*UnitInfo
	insights    map[string][]model.InsightRecord
	AdjustErr   error
	ValidateErr error
	InsightErr  map[string]error

	AdjustCalls   int
	ValidateCalls int
}

// NewFakeClient creates a fake seeded with units.
func NewFakeClient(units ...UnitInfo) *FakeClient {
	f := &FakeClient{units: make(map[string]*UnitInfo), insights: make(map[string][]model.InsightRecord)}
	for i := range units {
		u := units[i]
		f.units[u.ID] = &u
	}
	return f
}

func (f *FakeClient) Name() string { return "fake" }

// SetInsights seeds the records FetchInsights returns for a unit.
func (f *FakeClient) SetInsights(unitID string, recs []model.InsightRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights[unitID] = recs
}

func (f *FakeClient) ValidateUnit(_ context.Context, unitID string) (*UnitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ValidateCalls++
	if f.ValidateErr != nil {
		return nil, f.ValidateErr
	}
	u, ok := f.units[unitID]
	if !ok {
		return nil, &model.ValidationError{Field: "unit_id", Reason: fmt.Sprintf("unit %s not found on platform", unitID)}
	}
	cp := *u
	return &cp, nil
}

func (f *FakeClient) AdjustBudget(_ context.Context, unitID string, t model.BudgetType, amount float64) (*AdjustResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AdjustCalls++
	if f.AdjustErr != nil {
		return &AdjustResponse{UnitID: unitID, Raw: f.AdjustErr.Error()}, f.AdjustErr
	}
	u, ok := f.units[unitID]
	if !ok {
		return nil, &model.ValidationError{Field: "unit_id", Reason: "unknown unit"}
	}
	if t == model.BudgetLifetime {
		u.LifetimeBudget = amount
	} else {
		u.DailyBudget = amount
	}
	return &AdjustResponse{Success: true, UnitID: unitID, Budget: amount, Raw: `{"success":true}`}, nil
}

func (f *FakeClient) FetchInsights(_ context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.InsightErr[unitID]; err != nil {
		return nil, err
	}
	var out []model.InsightRecord
	for _, r := range f.insights[unitID] {
		if !r.Date.Before(since) && r.Date.Before(until) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Calls returns how many validate and adjust calls were made.
func (f *FakeClient) Calls() (validate, adjust int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ValidateCalls, f.AdjustCalls
}
