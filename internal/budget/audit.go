package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CampaignSentinel/internal/model"
)

// AuditStore persists adjustment logs.
type AuditStore interface {
	CreateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error
	UpdateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error
	GetAdjustmentLog(ctx context.Context, id string) (*model.BudgetAdjustmentLog, error)
	ListAdjustmentLogs(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error)
	CheckAdjustmentFrequency(ctx context.Context, unitID, excludeLogID string, now time.Time, limit int) (model.FrequencyCheck, error)
}

// AuditLog records every budget change attempt.
type AuditLog struct {
	store AuditStore
	now   func() time.Time
}

// NewAuditLog creates an AuditLog.
func NewAuditLog(st AuditStore, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{store: st, now: now}
}

// Changes returns the absolute and percentage change from old to new, rounded to cents
// and hundredths of a percent. The percentage is 0 when old is 0.
func Changes(oldBudget, newBudget float64) (amount, percent float64) {
	o := decimal.NewFromFloat(oldBudget)
	n := decimal.NewFromFloat(newBudget)
	diff := n.Sub(o)
	amount, _ = diff.Round(2).Float64()
	if o.IsZero() {
		return amount, 0
	}
	percent, _ = diff.Div(o).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return amount, percent
}

// Begin writes a pending log row.
func (a *AuditLog) Begin(ctx context.Context, req *Request, oldBudget float64) (*model.BudgetAdjustmentLog, error) {
	now := a.now()
	amount, pct := Changes(oldBudget, req.NewBudget)
	l := &model.BudgetAdjustmentLog{
		ID:            uuid.NewString(),
		UnitID:        req.UnitID,
		BudgetType:    req.BudgetType,
		OldBudget:     oldBudget,
		NewBudget:     req.NewBudget,
		AmountChange:  amount,
		PercentChange: pct,
		Reason:        req.Reason,
		Trigger:       req.Trigger,
		Context:       req.Context,
		UserID:        req.UserID,
		Status:        model.AdjustmentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.Context.DryRun = req.DryRun
	l.Context.Forced = req.Force
	if err := a.store.CreateAdjustmentLog(ctx, l); err != nil {
		return nil, fmt.Errorf("write pending audit log: %w", err)
	}
	return l, nil
}

// MarkApplied finalises a row as applied with the platform response.
func (a *AuditLog) MarkApplied(ctx context.Context, l *model.BudgetAdjustmentLog, response string) error {
	now := a.now()
	l.Status = model.AdjustmentApplied
	l.PlatformResponse = response
	l.UpdatedAt = now
	l.AppliedAt = &now
	return a.store.UpdateAdjustmentLog(ctx, l)
}

// MarkFailed finalises a row as failed with the raw platform error.
func (a *AuditLog) MarkFailed(ctx context.Context, l *model.BudgetAdjustmentLog, response string, cause error) error {
	l.Status = model.AdjustmentFailed
	l.PlatformResponse = response
	l.ErrorMessage = cause.Error()
	l.UpdatedAt = a.now()
	return a.store.UpdateAdjustmentLog(ctx, l)
}

// History returns the most recent log rows for a unit, newest first.
func (a *AuditLog) History(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.store.ListAdjustmentLogs(ctx, unitID, limit)
}

// Get returns one log row.
func (a *AuditLog) Get(ctx context.Context, id string) (*model.BudgetAdjustmentLog, error) {
	return a.store.GetAdjustmentLog(ctx, id)
}
