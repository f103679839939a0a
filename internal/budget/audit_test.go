package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/store"
)

func TestAuditLog_Lifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	now := testNow
	audit := NewAuditLog(ms, func() time.Time { return now })
	ctx := context.Background()

	req := &Request{UnitID: "u1", NewBudget: 60, BudgetType: model.BudgetLifetime, Reason: "cut", Trigger: model.TriggerAutomatic,
		Context: model.AdjustmentContext{Source: "alert", AlertID: "a-1"}}
	l, err := audit.Begin(ctx, req, 80)
	require.NoError(t, err)
	assert.Equal(t, model.AdjustmentPending, l.Status)
	assert.Equal(t, -20.0, l.AmountChange)
	assert.Equal(t, -25.0, l.PercentChange)

	now = now.Add(time.Second)
	require.NoError(t, audit.MarkFailed(ctx, l, `{"error":"x"}`, errors.New("boom")))

	l2, err := audit.Begin(ctx, req, 80)
	require.NoError(t, err)
	require.NoError(t, audit.MarkApplied(ctx, l2, `{"success":true}`))

	hist, err := audit.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, model.AdjustmentApplied, hist[0].Status)
	assert.Equal(t, model.AdjustmentFailed, hist[1].Status)
	assert.Equal(t, "boom", hist[1].ErrorMessage)
	assert.Equal(t, "a-1", hist[1].Context.AlertID)

	got, err := audit.Get(ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, now, *got.AppliedAt)
}
