package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/platform"
	"CampaignSentinel/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	logs []model.BudgetAdjustmentLog
}

func (c *captureNotifier) NotifyBudgetChange(_ context.Context, l *model.BudgetAdjustmentLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, *l)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIncreasePercent = 20
	cfg.MaxDecreasePercent = 30
	cfg.ValidateBackoff = time.Millisecond
	cfg.ChunkDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, units ...platform.UnitInfo) (*Engine, *platform.FakeClient, *store.MemoryStore, *captureNotifier) {
	t.Helper()
	fake := platform.NewFakeClient(units...)
	ms := store.NewMemoryStore()
	n := &captureNotifier{}
	eng := NewEngine(fake, ms, n, nil, cfg, func() time.Time { return testNow }, zerolog.Nop())
	return eng, fake, ms, n
}

func unit(id string, daily float64) platform.UnitInfo {
	return platform.UnitInfo{ID: id, Name: "Unit " + id, Status: "ACTIVE", CampaignID: "c1", DailyBudget: daily}
}

func TestApply_Success(t *testing.T) {
	eng, fake, ms, n := newTestEngine(t, testConfig(), unit("u1", 100))

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 115, Reason: "behind schedule", UserID: "ana"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StatusApplied, res.Status)
	assert.Equal(t, 100.0, res.OldBudget)
	_, adjust := fake.Calls()
	assert.Equal(t, 1, adjust)

	l, err := ms.GetAdjustmentLog(context.Background(), res.LogID)
	require.NoError(t, err)
	assert.Equal(t, model.AdjustmentApplied, l.Status)
	assert.Equal(t, 15.0, l.AmountChange)
	assert.Equal(t, 15.0, l.PercentChange)
	assert.Equal(t, model.BudgetDaily, l.BudgetType)
	assert.Equal(t, model.TriggerManual, l.Trigger)
	assert.Equal(t, "Unit u1", l.Context.UnitName)
	require.NotNil(t, l.AppliedAt)
	require.Len(t, n.logs, 1)
}

func TestApply_RejectsIncreaseAboveLimitBeforePlatformCall(t *testing.T) {
	eng, fake, ms, _ := newTestEngine(t, testConfig(), unit("u1", 100))

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 125})

	assert.False(t, res.Success)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Contains(t, res.Error, "increase of 25.00%")
	var ve *model.ValidationError
	assert.ErrorAs(t, res.Err, &ve)
	_, adjust := fake.Calls()
	assert.Zero(t, adjust, "platform write must not be attempted")

	logs, err := ms.ListAdjustmentLogs(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestApply_FifthAdjustmentInHourBlocked(t *testing.T) {
	eng, fake, _, _ := newTestEngine(t, testConfig(), unit("u1", 100))
	ctx := context.Background()

	budget := 100.0
	for i := 0; i < 4; i++ {
		budget += 5
		res := eng.ApplyBudgetAdjustment(ctx, Request{UnitID: "u1", NewBudget: budget})
		require.True(t, res.Success, "adjustment %d: %s", i+1, res.Error)
	}

	res := eng.ApplyBudgetAdjustment(ctx, Request{UnitID: "u1", NewBudget: budget + 5})
	assert.False(t, res.Success)
	assert.Equal(t, StatusBlocked, res.Status)
	require.NotNil(t, res.Frequency)
	assert.False(t, res.Frequency.CanAdjust)
	require.NotNil(t, res.Frequency.NextAvailableTime)
	assert.Equal(t, testNow.Add(time.Hour), *res.Frequency.NextAvailableTime)
	var rc *model.RateCapError
	assert.ErrorAs(t, res.Err, &rc)

	_, adjust := fake.Calls()
	assert.Equal(t, 4, adjust)

	forced := eng.ApplyBudgetAdjustment(ctx, Request{UnitID: "u1", NewBudget: budget + 5, Force: true})
	assert.True(t, forced.Success, forced.Error)
}

func TestApply_PlatformFailureRecorded(t *testing.T) {
	eng, fake, ms, n := newTestEngine(t, testConfig(), unit("u1", 100))
	fake.AdjustErr = errors.New(`{"error":{"message":"Budget too low"}}`)

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 110})

	assert.Equal(t, StatusFailed, res.Status)
	l, err := ms.GetAdjustmentLog(context.Background(), res.LogID)
	require.NoError(t, err)
	assert.Equal(t, model.AdjustmentFailed, l.Status)
	assert.Contains(t, l.ErrorMessage, "Budget too low")
	assert.Nil(t, l.AppliedAt)
	assert.Empty(t, n.logs)
	_, adjust := fake.Calls()
	assert.Equal(t, 1, adjust, "writes are never retried")
}

func TestApply_DryRunSkipsPlatformWrite(t *testing.T) {
	eng, fake, ms, _ := newTestEngine(t, testConfig(), unit("u1", 100))

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 110, DryRun: true})

	require.True(t, res.Success)
	assert.True(t, res.DryRun)
	_, adjust := fake.Calls()
	assert.Zero(t, adjust)
	l, err := ms.GetAdjustmentLog(context.Background(), res.LogID)
	require.NoError(t, err)
	assert.True(t, l.Context.DryRun)
	assert.Equal(t, model.AdjustmentApplied, l.Status)
}

func TestApply_UnknownUnitNotRetried(t *testing.T) {
	eng, fake, _, _ := newTestEngine(t, testConfig())

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "ghost", NewBudget: 50})

	assert.Equal(t, StatusRejected, res.Status)
	validate, _ := fake.Calls()
	assert.Equal(t, 1, validate)
}

func TestApply_RejectsArchivedUnit(t *testing.T) {
	archived := unit("u1", 100)
	archived.Status = "ARCHIVED"
	eng, fake, ms, _ := newTestEngine(t, testConfig(), archived, unit("u2", 100))

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 110})

	assert.Equal(t, StatusRejected, res.Status)
	var ve *model.ValidationError
	require.ErrorAs(t, res.Err, &ve)
	assert.Contains(t, ve.Reason, "archived")
	_, adjust := fake.Calls()
	assert.Zero(t, adjust)
	logs, err := ms.ListAdjustmentLogs(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	other := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u2", NewBudget: 110})
	assert.Equal(t, StatusApplied, other.Status)
}

func TestApply_TransientValidationRetried(t *testing.T) {
	eng, fake, _, _ := newTestEngine(t, testConfig(), unit("u1", 100))
	fake.ValidateErr = errors.New("connection reset")

	res := eng.ApplyBudgetAdjustment(context.Background(), Request{UnitID: "u1", NewBudget: 110})

	assert.Equal(t, StatusRejected, res.Status)
	validate, adjust := fake.Calls()
	assert.Equal(t, 4, validate)
	assert.Zero(t, adjust)
}

func TestValidateBusinessRules(t *testing.T) {
	cfg := testConfig()
	cfg.MinBudget = 10
	cfg.MaxBudget = 1000
	eng, _, _, _ := newTestEngine(t, cfg)

	tests := []struct {
		name     string
		old, new float64
		ok       bool
	}{
		{"within limits", 100, 120, true},
		{"increase over limit", 100, 120.01, false},
		{"decrease at limit", 100, 70, true},
		{"decrease over limit", 100, 69, false},
		{"below minimum", 12, 9, false},
		{"above maximum", 950, 1001, false},
		{"zero current budget skips percentage", 0, 500, true},
		{"non-positive", 100, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.ValidateBusinessRules(tt.old, tt.new)
			assert.Equal(t, tt.ok, err == nil, "err=%v", err)
		})
	}
}

func TestRollbackUnsupported(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, testConfig())
	err := eng.Rollback(context.Background(), "log-1")
	assert.ErrorIs(t, err, ErrRollbackUnsupported)
}

func TestChanges(t *testing.T) {
	amount, pct := Changes(80, 100)
	assert.Equal(t, 20.0, amount)
	assert.Equal(t, 25.0, pct)

	amount, pct = Changes(0, 50)
	assert.Equal(t, 50.0, amount)
	assert.Zero(t, pct)

	_, pct = Changes(30, 20)
	assert.Equal(t, -33.33, pct)
}

func TestApplyBatch_BusinessRuleFailureIsSkipped(t *testing.T) {
	var units []platform.UnitInfo
	var reqs []Request
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("u%02d", i)
		units = append(units, unit(id, 100))
		nb := 110.0
		if i == 6 {
			nb = 200 // +100%, over the limit
		}
		reqs = append(reqs, Request{UnitID: id, NewBudget: nb, Trigger: model.TriggerAutomatic})
	}
	eng, fake, _, _ := newTestEngine(t, testConfig(), units...)

	br := eng.ApplyBatch(context.Background(), reqs, BatchOptions{MaxConcurrent: 3})

	assert.Equal(t, 10, br.Total)
	assert.Equal(t, 9, br.Successful)
	assert.Equal(t, 0, br.Failed)
	assert.Equal(t, 1, br.Skipped)
	assert.Equal(t, OutcomeSkipped, br.Items[6].Outcome)
	assert.Equal(t, "u06", br.Items[6].UnitID)
	_, adjust := fake.Calls()
	assert.Equal(t, 9, adjust)
	require.NotNil(t, br.Items[0].Result)
	assert.NotEmpty(t, br.BatchID)
}

func TestApplyBatch_StopOnFailure(t *testing.T) {
	var units []platform.UnitInfo
	var reqs []Request
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("u%d", i)
		units = append(units, unit(id, 100))
		reqs = append(reqs, Request{UnitID: id, NewBudget: 110})
	}
	eng, fake, _, _ := newTestEngine(t, testConfig(), units...)
	fake.AdjustErr = errors.New("platform down")

	br := eng.ApplyBatch(context.Background(), reqs, BatchOptions{MaxConcurrent: 3, StopOnFailure: true})

	assert.Equal(t, 3, br.Failed)
	assert.Equal(t, 4, br.Skipped)
	assert.Zero(t, br.Successful)
	_, adjust := fake.Calls()
	assert.Equal(t, 3, adjust)
	assert.Contains(t, br.Items[6].Error, "earlier failure")
}
