package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/budget"
	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/platform"
	"CampaignSentinel/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubMonitor struct{ result alerting.CycleResult }

func (m *stubMonitor) RunMonitoringCycle(context.Context) alerting.CycleResult { return m.result }

type stubDetector struct{ cfg anomaly.Config }

func (d *stubDetector) Detect(_ context.Context, recs []model.InsightRecord, cfg anomaly.Config) []model.DetectedAnomaly {
	d.cfg = cfg
	return []model.DetectedAnomaly{{Type: model.AnomalyCostSpike, Severity: model.SeverityMedium, AffectedUnits: []string{recs[0].UnitName}}}
}

type stubScanner struct{ calls int }

func (s *stubScanner) ScanAnomalies(context.Context) ([]model.DetectedAnomaly, error) {
	s.calls++
	return nil, nil
}

type fixture struct {
	srv      *Server
	store    *store.MemoryStore
	monitor  *stubMonitor
	detector *stubDetector
	scanner  *stubScanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.UpsertGoal(ctx, &model.Goal{
		UnitID: "u1", UnitName: "North", VolumeContracted: 1000, VolumeCaptured: 400,
		ContractStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ContractEnd:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		TargetCPL:     50,
	}))
	now := func() time.Time { return testNow }
	calc := calculator.NewEngine(ms, calculator.DefaultOptions(), time.Hour, now, zerolog.Nop())

	bcfg := budget.DefaultConfig()
	bcfg.ValidateBackoff = time.Millisecond
	bcfg.ChunkDelay = time.Millisecond
	fake := platform.NewFakeClient(
		platform.UnitInfo{ID: "u1", Status: "ACTIVE", DailyBudget: 100},
		platform.UnitInfo{ID: "u2", Status: "ACTIVE", DailyBudget: 200},
	)
	be := budget.NewEngine(fake, ms, nil, nil, bcfg, now, zerolog.Nop())

	f := &fixture{store: ms, monitor: &stubMonitor{}, detector: &stubDetector{}, scanner: &stubScanner{}}
	f.srv = New(Config{Log: zerolog.Nop(), Now: now}, Deps{
		Calc:     calc,
		Cache:    calc.Cache(),
		Monitor:  f.monitor,
		Detector: f.detector,
		Scanner:  f.scanner,
		Budget:   be,
		Store:    ms,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("campaign_sentinel_cycles_total 0\n"))
		}),
		AnomalyConfig: anomaly.DefaultConfig(),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "campaign_sentinel_cycles_total")
}

func TestCalculation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/units/u1/calculation?lookback_days=14", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[model.CalculationResult](t, rec)
	assert.Equal(t, "u1", res.UnitID)
	assert.Equal(t, 14, res.Historical.LookbackDays)
	assert.InDelta(t, 40, res.Progress.ActualProgress, 1e-9)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/units/nope/calculation", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/units/u1/calculation?lookback_days=abc", "").Code)
}

func TestPutGoal(t *testing.T) {
	f := newFixture(t)
	body := `{"unit_name":"South","volume_contracted":300,"volume_captured":10,
		"contract_start_date":"2026-03-01T00:00:00Z","contract_end_date":"2026-04-01T00:00:00Z"}`
	rec := f.do(t, http.MethodPut, "/units/u2/goal", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g, err := f.store.GetGoal(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 300, g.VolumeContracted)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/units/u2/calculation", "").Code)

	bad := `{"volume_contracted":300,"contract_start_date":"2026-03-01T00:00:00Z","contract_end_date":"2026-03-01T00:00:00Z"}`
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/units/u2/goal", bad).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/units/u2/goal", `{"colour":"red"}`).Code)
}

func TestDeliveryBumpsCapturedVolumeAndInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/units/u1/calculation", "").Code)

	rec := f.do(t, http.MethodPost, "/units/u1/deliveries", `{"contact_email":" Lead@Example.com "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 401, decode[map[string]any](t, rec)["volume_captured"])

	recs, err := f.store.ListDeliveries(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "lead@example.com", recs[0].DedupKey)
	assert.Equal(t, testNow, recs[0].DeliveredAt)

	res := decode[model.CalculationResult](t, f.do(t, http.MethodGet, "/units/u1/calculation", ""))
	assert.Equal(t, 401, res.Goal.VolumeCaptured)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/units/ghost/deliveries", `{}`).Code)
}

func TestRulesAndAlerts(t *testing.T) {
	f := newFixture(t)
	rule := `{"name":"behind","type":"goal_deviation","severity":"high","channels":["telegram"],"active":true}`
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/rules/r1", rule).Code)
	rules, err := f.store.ListActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/rules/r2", `{"type":"goal_deviation","severity":"high"}`).Code)

	rec := f.do(t, http.MethodGet, "/alerts?unit_id=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRunMonitoring(t *testing.T) {
	f := newFixture(t)
	f.monitor.result = alerting.CycleResult{UnitsChecked: 2, AlertsGenerated: 1}
	rec := f.do(t, http.MethodPost, "/monitoring/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[alerting.CycleResult](t, rec).UnitsChecked)

	f.monitor.result = alerting.CycleResult{Errors: []string{alerting.ErrCycleRunning.Error()}}
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/monitoring/run", "").Code)
}

func TestDetectAnomalies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/anomalies/detect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.scanner.calls)
	assert.Equal(t, 0, decode[detectResponse](t, rec).Count)

	body := `{"sensitivity":"high","records":[{"unit_id":"u1","unit_name":"North","date":"2026-03-09T00:00:00Z","spend":10}]}`
	rec = f.do(t, http.MethodPost, "/anomalies/detect", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[detectResponse](t, rec)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, []string{"North"}, out.Anomalies[0].AffectedUnits)
	assert.Equal(t, model.SensitivityHigh, f.detector.cfg.Sensitivity)
}

func TestBudgetEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/budget/adjustments", `{"unit_id":"u1","new_budget":115,"reason":"behind"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[budget.Result](t, rec)
	assert.Equal(t, budget.StatusApplied, res.Status)
	assert.InDelta(t, 100, res.OldBudget, 1e-9)

	rec = f.do(t, http.MethodPost, "/budget/adjustments", `{"unit_id":"u1","new_budget":400,"reason":"too much"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, budget.StatusRejected, decode[budget.Result](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/budget/units/u1/frequency", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fc := decode[model.FrequencyCheck](t, rec)
	assert.Equal(t, 1, fc.AdjustmentsInHour)
	assert.Equal(t, 3, fc.Remaining)

	rec = f.do(t, http.MethodGet, "/budget/units/u1/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]model.BudgetAdjustmentLog](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, res.LogID, history[0].ID)

	rec = f.do(t, http.MethodPost, "/budget/adjustments/"+res.LogID+"/rollback", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "not supported")
}

func TestBudgetBatch(t *testing.T) {
	f := newFixture(t)
	body := `{"requests":[
		{"unit_id":"u1","new_budget":110,"reason":"r"},
		{"unit_id":"u2","new_budget":220,"reason":"r"},
		{"unit_id":"ghost","new_budget":50,"reason":"r"}
	],"max_concurrent":2}`
	rec := f.do(t, http.MethodPost, "/budget/adjustments/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	br := decode[budget.BatchResult](t, rec)
	assert.Equal(t, 3, br.Total)
	assert.Equal(t, 2, br.Successful)
	assert.Equal(t, 1, br.Skipped)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/budget/adjustments/batch", `{"requests":[]}`).Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/budget/adjustments", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
