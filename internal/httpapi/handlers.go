package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/budget"
	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	var (
		ve  *model.ValidationError
		rce *model.RateCapError
		ext *model.ExternalServiceError
		dq  *model.DataQualityError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, budget.ErrRollbackUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &rce):
		return http.StatusTooManyRequests
	case errors.As(err, &ext), errors.As(err, &dq):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &model.ValidationError{Field: key, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, &model.ValidationError{Field: key, Reason: "must be a non-negative number"}
	}
	return f, nil
}

func (s *Server) handleCalculation(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	var opts calculator.Options
	var err error
	if opts.LookbackDays, err = queryInt(r, "lookback_days"); err != nil {
		writeError(w, err)
		return
	}
	if opts.CapacityMultiplier, err = queryFloat(r, "capacity_multiplier"); err != nil {
		writeError(w, err)
		return
	}
	if opts.CatchUpThreshold, err = queryFloat(r, "catch_up_threshold"); err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("refresh") == "true" && s.deps.Cache != nil {
		s.deps.Cache.Invalidate(unitID)
	}
	res, err := s.deps.Calc.CalculateWithOptions(r.Context(), unitID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePutGoal(w http.ResponseWriter, r *http.Request) {
	var g model.Goal
	if err := decodeBody(w, r, &g); err != nil {
		writeError(w, err)
		return
	}
	g.UnitID = chi.URLParam(r, "unitID")
	if g.VolumeContracted <= 0 {
		writeError(w, &model.ValidationError{Field: "volume_contracted", Reason: "must be positive"})
		return
	}
	if !g.ContractEnd.After(g.ContractStart) {
		writeError(w, &model.ValidationError{Field: "contract_end_date", Reason: "must be after contract_start_date"})
		return
	}
	if err := s.deps.Store.UpsertGoal(r.Context(), &g); err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(g.UnitID)
	writeJSON(w, http.StatusOK, g)
}

type deliveryRequest struct {
	DeliveredAt  *time.Time `json:"delivered_at"`
	ContactEmail string     `json:"contact_email"`
}

// handleDelivery records one delivered conversion and bumps the captured volume.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	var req deliveryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec := model.DeliveryRecord{UnitID: unitID, DeliveredAt: s.now().UTC(), DedupKey: strings.ToLower(strings.TrimSpace(req.ContactEmail))}
	if req.DeliveredAt != nil {
		rec.DeliveredAt = req.DeliveredAt.UTC()
	}

	s.deliveryMu.Lock()
	defer s.deliveryMu.Unlock()
	g, err := s.deps.Store.GetGoal(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.AddDelivery(r.Context(), &rec); err != nil {
		writeError(w, err)
		return
	}
	g.VolumeCaptured++
	if err := s.deps.Store.UpsertGoal(r.Context(), g); err != nil {
		writeError(w, err)
		return
	}
	s.invalidate(unitID)
	writeJSON(w, http.StatusCreated, map[string]any{"unit_id": unitID, "volume_captured": g.VolumeCaptured})
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule model.AlertRule
	if err := decodeBody(w, r, &rule); err != nil {
		writeError(w, err)
		return
	}
	rule.ID = chi.URLParam(r, "ruleID")
	if err := alerting.ValidateRule(&rule); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.SaveRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 {
		limit = 50
	}
	alerts, err := s.deps.Store.ListAlerts(r.Context(), r.URL.Query().Get("unit_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleRunMonitoring(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Monitor.RunMonitoringCycle(r.Context())
	status := http.StatusOK
	for _, e := range res.Errors {
		if e == alerting.ErrCycleRunning.Error() {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, res)
}

type detectRequest struct {
	Records     []model.InsightRecord `json:"records"`
	Sensitivity model.Sensitivity     `json:"sensitivity"`
	EnableModel *bool                 `json:"enable_model"`
}

type detectResponse struct {
	Count     int                     `json:"count"`
	Anomalies []model.DetectedAnomaly `json:"anomalies"`
}

// handleDetect scans posted records, or the stored window when the body is empty.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	var found []model.DetectedAnomaly
	if len(req.Records) == 0 {
		var err error
		if found, err = s.deps.Scanner.ScanAnomalies(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	} else {
		cfg := s.deps.AnomalyConfig
		if req.Sensitivity != "" {
			cfg.Sensitivity = req.Sensitivity
		}
		if req.EnableModel != nil {
			cfg.EnableModel = *req.EnableModel
		}
		found = s.deps.Detector.Detect(r.Context(), req.Records, cfg)
	}
	if found == nil {
		found = []model.DetectedAnomaly{}
	}
	writeJSON(w, http.StatusOK, detectResponse{Count: len(found), Anomalies: found})
}

var adjustStatus = map[budget.Status]int{
	budget.StatusApplied:  http.StatusOK,
	budget.StatusBlocked:  http.StatusTooManyRequests,
	budget.StatusRejected: http.StatusUnprocessableEntity,
	budget.StatusFailed:   http.StatusBadGateway,
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req budget.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = model.TriggerManual
	}
	res := s.deps.Budget.ApplyBudgetAdjustment(r.Context(), req)
	status, ok := adjustStatus[res.Status]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

type batchRequest struct {
	Requests      []budget.Request `json:"requests"`
	MaxConcurrent int              `json:"max_concurrent"`
	StopOnFailure bool             `json:"stop_on_failure"`
	ChunkDelayMS  int              `json:"chunk_delay_ms"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, &model.ValidationError{Field: "requests", Reason: "at least one request is required"})
		return
	}
	for i := range req.Requests {
		if req.Requests[i].Trigger == "" {
			req.Requests[i].Trigger = model.TriggerManual
		}
	}
	res := s.deps.Budget.ApplyBatch(r.Context(), req.Requests, budget.BatchOptions{
		MaxConcurrent: req.MaxConcurrent,
		StopOnFailure: req.StopOnFailure,
		ChunkDelay:    time.Duration(req.ChunkDelayMS) * time.Millisecond,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Budget.Rollback(r.Context(), chi.URLParam(r, "logID"))
	if err == nil {
		err = fmt.Errorf("rollback returned no result")
	}
	writeError(w, err)
}

func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	fc, err := s.deps.Budget.CheckFrequency(r.Context(), chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.deps.Budget.History(r.Context(), chi.URLParam(r, "unitID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []model.BudgetAdjustmentLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) invalidate(unitID string) {
	if s.deps.Cache != nil {
		s.deps.Cache.Invalidate(unitID)
	}
}
