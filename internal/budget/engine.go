package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/platform"
	"CampaignSentinel/internal/recorder"
	"CampaignSentinel/internal/retry"
)

// ErrRollbackUnsupported is returned by Rollback until revert semantics are decided.
var ErrRollbackUnsupported = errors.New("budget rollback is not supported")

// Status of a single adjustment request.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusBlocked  Status = "blocked"  // frequency cap
	StatusRejected Status = "rejected" // validation or business rule
	StatusFailed   Status = "failed"   // platform write or audit failure
)

// Config holds the business rules and engine tuning.
type Config struct {
	MaxAdjustmentsPerHour int           `yaml:"max_adjustments_per_hour"`
	MinBudget             float64       `yaml:"min_budget"`
	MaxBudget             float64       `yaml:"max_budget"`
	MaxIncreasePercent    float64       `yaml:"max_increase_pct"`
	MaxDecreasePercent    float64       `yaml:"max_decrease_pct"`
	DryRun                bool          `yaml:"dry_run"`
	ValidateRetries       int           `yaml:"validate_retries"`
	ValidateBackoff       time.Duration `yaml:"validate_backoff"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	ChunkDelay            time.Duration `yaml:"chunk_delay"`
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		MaxAdjustmentsPerHour: 4,
		MinBudget:             1,
		MaxBudget:             100000,
		MaxIncreasePercent:    50,
		MaxDecreasePercent:    50,
		ValidateRetries:       3,
		ValidateBackoff:       500 * time.Millisecond,
		MaxConcurrent:         3,
		ChunkDelay:            time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAdjustmentsPerHour <= 0 {
		c.MaxAdjustmentsPerHour = d.MaxAdjustmentsPerHour
	}
	if c.ValidateRetries < 0 {
		c.ValidateRetries = 0
	}
	if c.ValidateBackoff <= 0 {
		c.ValidateBackoff = d.ValidateBackoff
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	return c
}

// Request asks for one budget change.
type Request struct {
	UnitID     string                  `json:"unit_id"`
	NewBudget  float64                 `json:"new_budget"`
	BudgetType model.BudgetType        `json:"budget_type"`
	Reason     string                  `json:"reason"`
	UserID     string                  `json:"user_id,omitempty"`
	Trigger    model.TriggerType       `json:"trigger_type"`
	Force      bool                    `json:"force,omitempty"`
	DryRun     bool                    `json:"dry_run,omitempty"`
	Context    model.AdjustmentContext `json:"context"`
}

// Result is the structured outcome of one request.
type Result struct {
	Success          bool                  `json:"success"`
	Status           Status                `json:"status"`
	UnitID           string                `json:"unit_id"`
	LogID            string                `json:"log_id,omitempty"`
	OldBudget        float64               `json:"old_budget"`
	NewBudget        float64               `json:"new_budget"`
	DryRun           bool                  `json:"dry_run"`
	Frequency        *model.FrequencyCheck `json:"frequency,omitempty"`
	PlatformResponse string                `json:"platform_response,omitempty"`
	Error            string                `json:"error,omitempty"`
	Err              error                 `json:"-"`
}

func (r *Result) fail(status Status, err error) Result {
	r.Success = false
	r.Status = status
	r.Err = err
	r.Error = err.Error()
	return *r
}

// ChangeNotifier is told about applied adjustments.
type ChangeNotifier interface {
	NotifyBudgetChange(ctx context.Context, l *model.BudgetAdjustmentLog) error
}

// Engine applies budget changes with a frequency cap, business rules and an audit trail.
type Engine struct {
	client   platform.Client
	audit    *AuditLog
	notifier ChangeNotifier
	rec      recorder.Recorder
	cfg      Config
	backoff  retry.Backoff
	now      func() time.Time
	log      zerolog.Logger

	locks sync.Map // unit id -> *sync.Mutex
}

// NewEngine creates an Engine. notifier and rec may be nil.
func NewEngine(client platform.Client, st AuditStore, notifier ChangeNotifier, rec recorder.Recorder,
	cfg Config, now func() time.Time, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Engine{
		client:   client,
		audit:    NewAuditLog(st, now),
		notifier: notifier,
		rec:      rec,
		cfg:      cfg,
		backoff:  retry.New(cfg.ValidateBackoff, cfg.ValidateRetries, 0),
		now:      now,
		log:      log.With().Str("service", "budget").Logger(),
	}
}

// Audit exposes the audit log service.
func (e *Engine) Audit() *AuditLog { return e.audit }

func (e *Engine) unitLock(unitID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(unitID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CheckFrequency reports the cap state for a unit.
func (e *Engine) CheckFrequency(ctx context.Context, unitID string) (model.FrequencyCheck, error) {
	return e.audit.store.CheckAdjustmentFrequency(ctx, unitID, "", e.now(), e.cfg.MaxAdjustmentsPerHour)
}

// ApplyBudgetAdjustment runs the full adjustment sequence. It never returns an error:
// every failure is reported in the Result, and failures after the pending row is
// written are recorded in the audit log.
func (e *Engine) ApplyBudgetAdjustment(ctx context.Context, req Request) Result {
	if req.BudgetType == "" {
		req.BudgetType = model.BudgetDaily
	}
	if req.Trigger == "" {
		req.Trigger = model.TriggerManual
	}
	dryRun := req.DryRun || e.cfg.DryRun
	req.DryRun = dryRun
	res := Result{UnitID: req.UnitID, NewBudget: req.NewBudget, DryRun: dryRun}

	out := e.apply(ctx, &req, &res)
	e.rec.RecordAdjustment(&recorder.AdjustmentEvent{UnitID: req.UnitID, Status: string(out.Status), DryRun: dryRun})
	lvl := zerolog.InfoLevel
	if !out.Success {
		lvl = zerolog.WarnLevel
	}
	e.log.WithLevel(lvl).
		Str("error", out.Error).
		Str("unit_id", req.UnitID).
		Str("status", string(out.Status)).
		Float64("old_budget", out.OldBudget).
		Float64("new_budget", out.NewBudget).
		Bool("dry_run", dryRun).
		Msg("budget adjustment")
	return out
}

func (e *Engine) apply(ctx context.Context, req *Request, res *Result) Result {
	if req.UnitID == "" {
		return res.fail(StatusRejected, &model.ValidationError{Field: "unit_id", Reason: "required"})
	}
	if req.BudgetType != model.BudgetDaily && req.BudgetType != model.BudgetLifetime {
		return res.fail(StatusRejected, &model.ValidationError{Field: "budget_type", Reason: fmt.Sprintf("unknown budget type %q", req.BudgetType)})
	}

	mu := e.unitLock(req.UnitID)
	mu.Lock()
	defer mu.Unlock()

	// 1. frequency cap
	if !req.Force {
		fc, err := e.CheckFrequency(ctx, req.UnitID)
		if err != nil {
			return res.fail(StatusFailed, &model.ExternalServiceError{Service: "store", Op: "check frequency", Err: err})
		}
		res.Frequency = &fc
		if !fc.CanAdjust {
			next := time.Time{}
			if fc.NextAvailableTime != nil {
				next = *fc.NextAvailableTime
			}
			return res.fail(StatusBlocked, &model.RateCapError{
				UnitID: req.UnitID, Used: fc.AdjustmentsInHour, Limit: e.cfg.MaxAdjustmentsPerHour, NextAvailable: next,
			})
		}
	}

	// 2. platform validation, retried
	var unit *platform.UnitInfo
	err := e.backoff.Do(ctx, func(ctx context.Context) error {
		u, err := e.client.ValidateUnit(ctx, req.UnitID)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return retry.Permanent(err)
			}
			return err
		}
		unit = u
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		e.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("unit_id", req.UnitID).Msg("platform validation failed, retrying")
	})
	if err != nil {
		return res.fail(StatusRejected, err)
	}
	if unit.Removed() {
		return res.fail(StatusRejected, &model.ValidationError{
			Field: "unit_id", Reason: fmt.Sprintf("unit %s is %s on the platform", req.UnitID, strings.ToLower(unit.Status)),
		})
	}
	res.OldBudget = unit.Budget(req.BudgetType)
	req.Context.UnitName = unit.Name
	req.Context.ParentID = unit.CampaignID

	// 3. business rules
	if err := e.ValidateBusinessRules(res.OldBudget, req.NewBudget); err != nil {
		return res.fail(StatusRejected, err)
	}

	// 4. pending audit row
	entry, err := e.audit.Begin(ctx, req, res.OldBudget)
	if err != nil {
		return res.fail(StatusFailed, err)
	}
	res.LogID = entry.ID

	// 5. platform write, never retried
	var resp *platform.AdjustResponse
	if req.DryRun {
		resp = &platform.AdjustResponse{Success: true, UnitID: req.UnitID, Budget: req.NewBudget, Raw: `{"dry_run":true}`}
	} else {
		resp, err = e.client.AdjustBudget(ctx, req.UnitID, req.BudgetType, req.NewBudget)
	}
	raw := ""
	if resp != nil {
		raw = resp.Raw
	}
	res.PlatformResponse = raw

	// 6. finalise audit row
	if err != nil {
		if aerr := e.audit.MarkFailed(ctx, entry, raw, err); aerr != nil {
			e.log.Error().Err(aerr).Str("log_id", entry.ID).Msg("failed to record failed adjustment")
		}
		return res.fail(StatusFailed, err)
	}
	if aerr := e.audit.MarkApplied(ctx, entry, raw); aerr != nil {
		e.log.Error().Err(aerr).Str("log_id", entry.ID).Msg("adjustment applied but audit update failed")
	}

	// 7. optional notification
	if e.notifier != nil {
		if nerr := e.notifier.NotifyBudgetChange(ctx, entry); nerr != nil {
			e.log.Warn().Err(nerr).Str("log_id", entry.ID).Msg("budget change notification failed")
		}
	}

	res.Success = true
	res.Status = StatusApplied
	return *res
}

// ValidateBusinessRules checks absolute bounds and the relative change limits.
// The relative limits are skipped when the current budget is zero.
func (e *Engine) ValidateBusinessRules(oldBudget, newBudget float64) error {
	if math.IsNaN(newBudget) || newBudget <= 0 {
		return &model.ValidationError{Field: "new_budget", Reason: "must be positive"}
	}
	if e.cfg.MinBudget > 0 && newBudget < e.cfg.MinBudget {
		return &model.ValidationError{Field: "new_budget", Reason: fmt.Sprintf("%.2f is below the minimum of %.2f", newBudget, e.cfg.MinBudget)}
	}
	if e.cfg.MaxBudget > 0 && newBudget > e.cfg.MaxBudget {
		return &model.ValidationError{Field: "new_budget", Reason: fmt.Sprintf("%.2f exceeds the maximum of %.2f", newBudget, e.cfg.MaxBudget)}
	}
	if oldBudget <= 0 {
		return nil
	}
	_, pct := Changes(oldBudget, newBudget)
	if e.cfg.MaxIncreasePercent > 0 && pct > e.cfg.MaxIncreasePercent {
		return &model.ValidationError{Field: "new_budget", Reason: fmt.Sprintf("increase of %.2f%% exceeds the limit of %.2f%%", pct, e.cfg.MaxIncreasePercent)}
	}
	if e.cfg.MaxDecreasePercent > 0 && -pct > e.cfg.MaxDecreasePercent {
		return &model.ValidationError{Field: "new_budget", Reason: fmt.Sprintf("decrease of %.2f%% exceeds the limit of %.2f%%", -pct, e.cfg.MaxDecreasePercent)}
	}
	return nil
}

// History returns the most recent audit entries of a unit, newest first.
func (e *Engine) History(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error) {
	return e.audit.History(ctx, unitID, limit)
}

// Rollback is not supported yet.
func (e *Engine) Rollback(_ context.Context, logID string) error {
	return fmt.Errorf("adjustment %s: %w", logID, ErrRollbackUnsupported)
}
