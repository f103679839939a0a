package calculator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/retry"
	"CampaignSentinel/internal/store"
)

// Source is the slice of the metrics store the engine reads.
type Source interface {
	GetGoal(ctx context.Context, unitID string) (*model.Goal, error)
	ListDeliveries(ctx context.Context, unitID string, since time.Time) ([]model.DeliveryRecord, error)
	ListInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error)
}

// Options tune a single calculation. Zero fields take DefaultOptions values.
type Options struct {
	LookbackDays       int     `yaml:"lookback_days"`
	CurrentWindowDays  int     `yaml:"current_window_days"`
	WeekendFactor      float64 `yaml:"weekend_factor"` // weekend throughput relative to a weekday
	CapacityMultiplier float64 `yaml:"capacity_multiplier"`
	CatchUpThreshold   float64 `yaml:"catch_up_threshold"` // deviation % below which a catch-up plan is built
	DefaultCPL         float64 `yaml:"default_cpl"`
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		LookbackDays:       30,
		CurrentWindowDays:  7,
		WeekendFactor:      0.7,
		CapacityMultiplier: 3,
		CatchUpThreshold:   10,
		DefaultCPL:         50,
	}
}

func (o Options) withDefaults() Options { return o.fill(DefaultOptions()) }

// fill replaces non-positive fields with the values of base.
func (o Options) fill(base Options) Options {
	if o.LookbackDays <= 0 {
		o.LookbackDays = base.LookbackDays
	}
	if o.CurrentWindowDays <= 0 {
		o.CurrentWindowDays = base.CurrentWindowDays
	}
	if o.WeekendFactor <= 0 {
		o.WeekendFactor = base.WeekendFactor
	}
	if o.CapacityMultiplier <= 0 {
		o.CapacityMultiplier = base.CapacityMultiplier
	}
	if o.CatchUpThreshold <= 0 {
		o.CatchUpThreshold = base.CatchUpThreshold
	}
	if o.DefaultCPL <= 0 {
		o.DefaultCPL = base.DefaultCPL
	}
	return o
}

func (o Options) cacheKey(unitID string) string {
	return fmt.Sprintf("%s|%d|%d|%.3f|%.3f|%.3f|%.3f", unitID, o.LookbackDays, o.CurrentWindowDays,
		o.WeekendFactor, o.CapacityMultiplier, o.CatchUpThreshold, o.DefaultCPL)
}

// Engine computes goal distributions and progress for delivery units.
type Engine struct {
	src   Source
	opts  Options
	cache *Cache
	reads retry.Backoff
	now   func() time.Time
	log   zerolog.Logger
}

// NewEngine creates an Engine. A nil clock uses time.Now.
func NewEngine(src Source, opts Options, cacheTTL time.Duration, now func() time.Time, log zerolog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		src:   src,
		opts:  opts.withDefaults(),
		cache: NewCache(cacheTTL, now),
		reads: retry.Read(),
		now:   now,
		log:   log.With().Str("service", "calculator").Logger(),
	}
}

// Cache exposes the result cache for invalidation and purging.
func (e *Engine) Cache() *Cache { return e.cache }

// SetReadBackoff replaces the retry policy for store reads.
func (e *Engine) SetReadBackoff(b retry.Backoff) { e.reads = b }

func (e *Engine) onRetry(op, unitID string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		e.log.Warn().Err(err).Str("op", op).Str("unit_id", unitID).Int("attempt", attempt).Dur("wait", wait).Msg("store read failed, retrying")
	}
}

// missingGoal reports errors that another attempt cannot fix.
func missingGoal(err error) bool {
	var ve *model.ValidationError
	return errors.Is(err, store.ErrNotFound) || errors.As(err, &ve)
}

// Calculate runs the calculation with the engine's default options.
func (e *Engine) Calculate(ctx context.Context, unitID string) (*model.CalculationResult, error) {
	return e.CalculateWithOptions(ctx, unitID, e.opts)
}

// CalculateWithOptions returns the cached result for (unit, options) or computes a fresh one.
// Zero option fields take the engine's configured values.
// Only a missing goal fails; every other read failure degrades to safe defaults.
func (e *Engine) CalculateWithOptions(ctx context.Context, unitID string, opts Options) (*model.CalculationResult, error) {
	opts = opts.fill(e.opts)
	key := opts.cacheKey(unitID)
	if res, ok := e.cache.Get(key); ok {
		return res, nil
	}

	goal, err := retry.Value(ctx, e.reads, func(ctx context.Context) (*model.Goal, error) {
		return e.src.GetGoal(ctx, unitID)
	}, missingGoal, e.onRetry("get goal", unitID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && goal == nil) {
		return nil, &model.ValidationError{Field: "unit_id", Reason: fmt.Sprintf("no goal configured for unit %s", unitID)}
	}
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "store", Op: "get goal", Err: err}
	}
	if !goal.ContractEnd.After(goal.ContractStart) {
		return nil, &model.ValidationError{Field: "contract_end_date", Reason: "must be after contract_start_date"}
	}

	now := e.now()
	today := dayStart(now)

	res := &model.CalculationResult{UnitID: unitID, Goal: *goal, CalculatedAt: now}
	res.Progress = progressMetrics(goal, today)
	res.Basic = basicDistribution(goal, today, res.Progress.DaysRemaining, opts.WeekendFactor)
	res.Historical = e.historicalPerformance(ctx, goal, today, opts.LookbackDays)
	res.Current = e.currentMetrics(ctx, unitID, today, opts)
	res.Adjusted = adjustedDistribution(goal, res, opts)
	res.CatchUp = catchUpPlan(goal, res, opts.CatchUpThreshold)
	res.Capacity = capacityAnalysis(res, opts.CapacityMultiplier)
	res.Alerts = generateAlerts(res)

	e.cache.Set(key, res)
	e.log.Debug().
		Str("unit_id", unitID).
		Float64("deviation", res.Progress.Deviation).
		Str("status", string(res.Progress.Status)).
		Msg("calculation complete")
	return res, nil
}

func (e *Engine) historicalPerformance(ctx context.Context, goal *model.Goal, today time.Time, lookback int) model.HistoricalPerformance {
	start := today.AddDate(0, 0, -lookback)
	if cs := dayStart(goal.ContractStart); cs.After(start) {
		start = cs
	}
	if !start.Before(today) {
		return model.HistoricalPerformance{LookbackDays: lookback, Trend: model.TrendStable}
	}
	recs, err := retry.Value(ctx, e.reads, func(ctx context.Context) ([]model.DeliveryRecord, error) {
		return e.src.ListDeliveries(ctx, goal.UnitID, start)
	}, nil, e.onRetry("list deliveries", goal.UnitID))
	if err != nil {
		e.log.Warn().Err(err).Str("unit_id", goal.UnitID).Msg("delivery history unavailable, assuming no history")
		return model.HistoricalPerformance{LookbackDays: lookback, Trend: model.TrendStable}
	}
	return summariseHistory(recs, start, today, lookback)
}

func (e *Engine) currentMetrics(ctx context.Context, unitID string, today time.Time, opts Options) model.CurrentMetrics {
	cm := model.CurrentMetrics{WindowDays: opts.CurrentWindowDays}
	since := today.AddDate(0, 0, -opts.CurrentWindowDays)
	insights, err := retry.Value(ctx, e.reads, func(ctx context.Context) ([]model.InsightRecord, error) {
		return e.src.ListInsights(ctx, unitID, since, today.AddDate(0, 0, 1))
	}, nil, e.onRetry("list insights", unitID))
	if err != nil {
		e.log.Warn().Err(err).Str("unit_id", unitID).Msg("insights unavailable, using default cost")
		insights = nil
	}
	for _, r := range insights {
		cm.TotalSpend += r.Spend
		cm.TotalConversions += r.Conversions
	}
	window := float64(opts.CurrentWindowDays)
	cm.DailyLeads = float64(cm.TotalConversions) / window
	cm.DailySpend = cm.TotalSpend / window
	if cm.TotalConversions > 0 {
		cm.EffectiveCPL = cm.TotalSpend / float64(cm.TotalConversions)
	} else {
		cm.EffectiveCPL = opts.DefaultCPL
		cm.UsedDefaultCPL = true
	}
	return cm
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dayStart(to).Sub(dayStart(from)).Hours() / 24)
}
