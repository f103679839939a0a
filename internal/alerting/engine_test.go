package alerting

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
	"CampaignSentinel/internal/retry"
	"CampaignSentinel/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubCalculator struct {
	mu      sync.Mutex
	results map[string]*model.CalculationResult
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (s *stubCalculator) Calculate(ctx context.Context, unitID string) (*model.CalculationResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	res, ok := s.results[unitID]
	if !ok {
		return nil, errors.New("no goal")
	}
	return res, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(ch model.Channel, a *model.Alert) (string, string, error) {
	return a.Title, fmt.Sprintf("[%s] %s", ch, a.Message), nil
}

type stubDispatcher struct{ calls int }

func (d *stubDispatcher) DispatchPending(context.Context) (int, error) {
	d.calls++
	return 2, nil
}

func behindResult(unitID string) *model.CalculationResult {
	return &model.CalculationResult{
		UnitID: unitID,
		Progress: model.ProgressMetrics{
			DaysElapsed: 20, DaysRemaining: 10, ActualProgress: 40, IdealProgress: 66.7,
			Deviation: -26.7, Status: model.StatusSignificantlyBehind,
		},
		Current: model.CurrentMetrics{WindowDays: 7, EffectiveCPL: 50, UsedDefaultCPL: true},
	}
}

func setup(t *testing.T, units ...string) (*store.MemoryStore, *stubCalculator) {
	t.Helper()
	ms := store.NewMemoryStore()
	calc := &stubCalculator{results: map[string]*model.CalculationResult{}}
	ctx := context.Background()
	for _, u := range units {
		require.NoError(t, ms.UpsertGoal(ctx, &model.Goal{
			UnitID: u, UnitName: "Unit " + u, ParentID: "c1",
			ContractStart: testNow.AddDate(0, 0, -20), ContractEnd: testNow.AddDate(0, 0, 10),
		}))
		calc.results[u] = behindResult(u)
	}
	require.NoError(t, ms.SaveRule(ctx, &model.AlertRule{
		ID: "dev", Name: "Deviation", Type: model.AlertGoalDeviation, Severity: model.SeverityHigh,
		Channels:   []model.Channel{model.ChannelEmail, model.ChannelWebhook},
		Recipients: []string{"ops@example.com", "am@example.com"},
		Active:     true, CooldownMinutes: 120,
	}))
	return ms, calc
}

func newEngine(ms *store.MemoryStore, calc Calculator, d Dispatcher, cfg Config, now *time.Time) *Engine {
	return NewEngine(ms, calc, stubRenderer{}, d, nil, cfg, func() time.Time { return *now }, zerolog.Nop())
}

func TestRunMonitoringCycle_RaisesAndSchedules(t *testing.T) {
	ms, calc := setup(t, "u1")
	d := &stubDispatcher{}
	now := testNow
	eng := newEngine(ms, calc, d, Config{}, &now)

	res := eng.RunMonitoringCycle(context.Background())

	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.UnitsChecked)
	assert.Equal(t, 1, res.AlertsGenerated)
	assert.Zero(t, res.AlertsSuppressed)
	assert.Equal(t, 2, res.NotificationsSent)
	assert.Equal(t, 1, d.calls)

	alerts, err := ms.ListAlerts(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	require.NotNil(t, alerts[0].Context.Deviation)

	notes := ms.Notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, model.ChannelEmail, notes[0].Channel)
	assert.Equal(t, "ops@example.com,am@example.com", notes[0].Recipient)
	assert.Equal(t, model.ChannelWebhook, notes[1].Channel)
	assert.Empty(t, notes[1].Recipient)
	assert.Equal(t, model.NotificationPending, notes[1].Status)
	assert.False(t, eng.IsRunning())
}

func TestRunMonitoringCycle_CooldownSuppresses(t *testing.T) {
	ms, calc := setup(t, "u1")
	now := testNow
	eng := newEngine(ms, calc, nil, Config{}, &now)

	first := eng.RunMonitoringCycle(context.Background())
	require.Equal(t, 1, first.AlertsGenerated)

	now = now.Add(90 * time.Minute)
	second := eng.RunMonitoringCycle(context.Background())
	assert.Zero(t, second.AlertsGenerated)
	assert.Equal(t, 1, second.AlertsSuppressed)

	now = now.Add(31 * time.Minute)
	third := eng.RunMonitoringCycle(context.Background())
	assert.Equal(t, 1, third.AlertsGenerated)
}

func TestRunMonitoringCycle_MaxAlertsPerRun(t *testing.T) {
	ms, calc := setup(t, "u1", "u2", "u3")
	now := testNow
	eng := newEngine(ms, calc, nil, Config{MaxAlertsPerRun: 2}, &now)

	res := eng.RunMonitoringCycle(context.Background())
	assert.Equal(t, 2, res.AlertsGenerated)
	assert.Equal(t, 2, res.UnitsChecked)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "alert cap of 2 reached")
	assert.Contains(t, res.Errors[0], "1 units unchecked")
}

func TestRunMonitoringCycle_CapReachedOnLastUnitIsNotAnError(t *testing.T) {
	ms, calc := setup(t, "u1", "u2")
	now := testNow
	eng := newEngine(ms, calc, nil, Config{MaxAlertsPerRun: 2}, &now)

	res := eng.RunMonitoringCycle(context.Background())
	assert.Equal(t, 2, res.AlertsGenerated)
	assert.Empty(t, res.Errors)
}

func TestRunMonitoringCycle_IsolatesUnitFailures(t *testing.T) {
	ms, calc := setup(t, "u1", "u2")
	delete(calc.results, "u1")
	now := testNow
	eng := newEngine(ms, calc, nil, Config{}, &now)

	res := eng.RunMonitoringCycle(context.Background())
	assert.Equal(t, 2, res.UnitsChecked)
	assert.Equal(t, 1, res.AlertsGenerated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unit u1")
}

func TestRunMonitoringCycle_StopsOnCancelledContext(t *testing.T) {
	ms, calc := setup(t, "u1", "u2")
	now := testNow
	eng := newEngine(ms, calc, nil, Config{}, &now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := eng.RunMonitoringCycle(ctx)
	assert.Zero(t, res.UnitsChecked)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "interrupted")
	assert.False(t, eng.IsRunning())
}

func TestRunMonitoringCycle_SingleFlight(t *testing.T) {
	ms, calc := setup(t, "u1")
	calc.entered = make(chan struct{})
	calc.release = make(chan struct{})
	now := testNow
	eng := newEngine(ms, calc, nil, Config{}, &now)

	done := make(chan CycleResult)
	go func() { done <- eng.RunMonitoringCycle(context.Background()) }()

	<-calc.entered
	assert.True(t, eng.IsRunning())

	second := eng.RunMonitoringCycle(context.Background())
	assert.Zero(t, second.UnitsChecked)
	require.Len(t, second.Errors, 1)
	assert.Contains(t, second.Errors[0], "already running")

	close(calc.release)
	first := <-done
	assert.Equal(t, 1, first.UnitsChecked)
	assert.Equal(t, 1, first.AlertsGenerated)
	assert.Equal(t, 1, calc.calls)
	assert.False(t, eng.IsRunning())
}

type failingRules struct{ *store.MemoryStore }

func (failingRules) ListActiveRules(context.Context) ([]model.AlertRule, error) {
	return nil, errors.New("db locked")
}

func TestRunMonitoringCycle_ClearsFlagOnEarlyError(t *testing.T) {
	ms, calc := setup(t, "u1")
	now := testNow
	eng := NewEngine(failingRules{ms}, calc, stubRenderer{}, nil, nil, Config{}, func() time.Time { return now }, zerolog.Nop())
	eng.SetReadBackoff(retry.New(time.Millisecond, 1, 0))

	res := eng.RunMonitoringCycle(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "db locked")
	assert.False(t, eng.IsRunning())

	again := eng.RunMonitoringCycle(context.Background())
	assert.NotContains(t, again.Errors, ErrCycleRunning.Error())
}

// flakyGoals fails the first ListGoals call.
type flakyGoals struct {
	*store.MemoryStore
	calls int
}

func (f *flakyGoals) ListGoals(ctx context.Context) ([]model.Goal, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("database is locked")
	}
	return f.MemoryStore.ListGoals(ctx)
}

func TestRunMonitoringCycle_RetriesTransientStoreReads(t *testing.T) {
	ms, calc := setup(t, "u1")
	now := testNow
	st := &flakyGoals{MemoryStore: ms}
	eng := NewEngine(st, calc, stubRenderer{}, nil, nil, Config{}, func() time.Time { return now }, zerolog.Nop())
	eng.SetReadBackoff(retry.New(time.Millisecond, 2, 0))

	res := eng.RunMonitoringCycle(context.Background())
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, st.calls)
	assert.Equal(t, 1, res.UnitsChecked)
	assert.Equal(t, 1, res.AlertsGenerated)
}
