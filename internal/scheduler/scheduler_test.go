package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/collector"
	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/retry"
	"CampaignSentinel/internal/store"
)

var testNow = time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

type stubMonitor struct {
	calls       int
	hadDeadline bool
	result      alerting.CycleResult
}

func (m *stubMonitor) RunMonitoringCycle(ctx context.Context) alerting.CycleResult {
	m.calls++
	_, m.hadDeadline = ctx.Deadline()
	return m.result
}

type stubCalc struct{}

func (stubCalc) Calculate(_ context.Context, unitID string) (*model.CalculationResult, error) {
	if unitID != "u1" {
		return nil, &model.ValidationError{Field: "unit_id", Reason: "no goal for unit " + unitID}
	}
	return &model.CalculationResult{
		UnitID: "u1",
		Goal:   model.Goal{UnitID: "u1", UnitName: "North", VolumeContracted: 1000, VolumeCaptured: 400},
		Progress: model.ProgressMetrics{
			ActualProgress: 40, IdealProgress: 66.7, Deviation: -26.7, Status: model.StatusSignificantlyBehind,
		},
	}, nil
}

type stubCache struct{ purges int }

func (c *stubCache) Purge() int { c.purges++; return 2 }

type stubDetector struct {
	got        []model.InsightRecord
	deliveries []model.DeliveryRecord
	cfg        anomaly.Config
}

func (d *stubDetector) DetectWithDeliveries(_ context.Context, recs []model.InsightRecord, deliveries []model.DeliveryRecord,
	cfg anomaly.Config) []model.DetectedAnomaly {
	d.got, d.deliveries, d.cfg = recs, deliveries, cfg
	return []model.DetectedAnomaly{{Type: model.AnomalyCostSpike, Severity: model.SeverityMedium, Confidence: 0.7}}
}

type stubInsights struct {
	since, until time.Time
	err          error
}

func (s *stubInsights) ListInsights(_ context.Context, _ string, since, until time.Time) ([]model.InsightRecord, error) {
	s.since, s.until = since, until
	if s.err != nil {
		return nil, s.err
	}
	return []model.InsightRecord{{UnitID: "u1", Date: testNow}}, nil
}

func (s *stubInsights) ListDeliveries(_ context.Context, _ string, since time.Time) ([]model.DeliveryRecord, error) {
	return []model.DeliveryRecord{
		{UnitID: "u1", DeliveredAt: since.Add(time.Hour), DedupKey: "a@x.com"},
		{UnitID: "u1", DeliveredAt: testNow.AddDate(0, 0, 2), DedupKey: "late@x.com"},
	}, nil
}

type stubBudget struct{}

func (stubBudget) CheckFrequency(_ context.Context, unitID string) (model.FrequencyCheck, error) {
	return model.FrequencyCheck{CanAdjust: true, AdjustmentsInHour: 1, Remaining: 3}, nil
}

type stubSyncer struct{ calls int }

func (s *stubSyncer) Collect(context.Context) (*collector.Result, error) {
	s.calls++
	return &collector.Result{Units: 2, Records: 14}, nil
}

type stubMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *stubMessenger) SendWithRetry(_ context.Context, text string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

type fixture struct {
	s         *Scheduler
	monitor   *stubMonitor
	cache     *stubCache
	detector  *stubDetector
	insights  *stubInsights
	syncer    *stubSyncer
	messenger *stubMessenger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		monitor:   &stubMonitor{},
		cache:     &stubCache{},
		detector:  &stubDetector{},
		insights:  &stubInsights{},
		syncer:    &stubSyncer{},
		messenger: &stubMessenger{},
	}
	f.s = NewScheduler(context.Background(), Deps{
		Monitor:   f.monitor,
		Calc:      stubCalc{},
		Cache:     f.cache,
		Detector:  f.detector,
		Insights:  f.insights,
		Budget:    stubBudget{},
		Syncer:    f.syncer,
		Messenger: f.messenger,
	}, Config{
		MonitoringCron: "0 */30 * * * *",
		AnomalyCron:    "0 0 7 * * *",
		CachePurgeCron: "0 5 * * * *",
		SyncCron:       "0 15 * * * *",
		JobTimeout:     time.Minute,
		Anomaly:        anomaly.Config{Sensitivity: model.SensitivityHigh},
	}, func() time.Time { return testNow }, zerolog.Nop())
	f.s.reads = retry.New(time.Millisecond, 1, 0)
	return f
}

func TestRegisterAll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.RegisterAll())
	assert.Len(t, f.s.Cron.Entries(), 4)

	noSync := newFixture(t)
	noSync.s.deps.Syncer = nil
	require.NoError(t, noSync.s.RegisterAll())
	assert.Len(t, noSync.s.Cron.Entries(), 3)
}

func TestRegisterAllRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	f.s.cfg.AnomalyCron = "daily"
	err := f.s.RegisterAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anomaly")
}

func TestMonitoringTaskUsesDeadlineAndReportsAlerts(t *testing.T) {
	f := newFixture(t)
	f.s.monitoringTask()
	assert.True(t, f.monitor.hadDeadline)
	assert.Empty(t, f.messenger.sent, "quiet cycles are not reported")

	f.monitor.result = alerting.CycleResult{UnitsChecked: 3, AlertsGenerated: 1}
	f.s.monitoringTask()
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "Alerts raised: 1")
}

func TestAnomalyTaskSendsDigest(t *testing.T) {
	f := newFixture(t)
	f.s.anomalyTask()

	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), f.insights.since)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), f.insights.until)
	assert.Len(t, f.detector.got, 1)
	require.Len(t, f.detector.deliveries, 1, "deliveries after the window are dropped")
	assert.Equal(t, "a@x.com", f.detector.deliveries[0].DedupKey)
	assert.Equal(t, model.SensitivityHigh, f.detector.cfg.Sensitivity)
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "cost_spike")
}

func TestAnomalyTaskReportsLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.insights.err = errors.New("db locked")
	f.s.anomalyTask()
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "db locked")
}

func TestCachePurgeAndSyncTasks(t *testing.T) {
	f := newFixture(t)
	f.s.cachePurgeTask()
	f.s.syncTask()
	assert.Equal(t, 1, f.cache.purges)
	assert.Equal(t, 1, f.syncer.calls)
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		command string
		want    string
	}{
		{"/cycle", "Monitoring cycle"},
		{"/status u1", "North"},
		{"/status@sentinel_bot u1", "significantly_behind"},
		{"/status", "Usage: /status"},
		{"/status u9", "no goal for unit u9"},
		{"/anomalies", "cost_spike"},
		{"/frequency u1", "Remaining: 3"},
		{"/frequency", "Usage: /frequency"},
		{"/sync", "Synced 14 records for 2 units"},
		{"/help", "CampaignSentinel commands"},
		{"hello", "CampaignSentinel commands"},
		{"", "CampaignSentinel commands"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Contains(t, f.s.HandleCommand(ctx, tt.command), tt.want)
		})
	}
	assert.Equal(t, 1, f.monitor.calls)
}

func TestScanAnomaliesFlagsDuplicateDeliveries(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	for i := 0; i < 6; i++ {
		require.NoError(t, ms.AddInsight(ctx, &model.InsightRecord{
			UnitID: "u1", UnitName: "North", Date: testNow.AddDate(0, 0, -i-1),
			Spend: 200, Conversions: 5, Clicks: 100, Impressions: 5000,
		}))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, ms.AddDelivery(ctx, &model.DeliveryRecord{
			UnitID: "u1", DeliveredAt: testNow.Add(-time.Duration(i+1) * time.Hour), DedupKey: "same@x.com",
		}))
	}

	s := NewScheduler(ctx, Deps{
		Detector: anomaly.NewDetector(nil, func() time.Time { return testNow }, zerolog.Nop()),
		Insights: ms,
	}, Config{}, func() time.Time { return testNow }, zerolog.Nop())

	found, err := s.ScanAnomalies(ctx)
	require.NoError(t, err)
	var dup *model.DetectedAnomaly
	for i := range found {
		if found[i].Type == model.AnomalyDuplicateLeads {
			dup = &found[i]
		}
	}
	require.NotNil(t, dup)
	assert.Equal(t, 3, dup.Metrics.DuplicateCount)
	assert.Equal(t, []string{"North"}, dup.AffectedUnits)
}
