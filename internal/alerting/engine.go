package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/recorder"
	"CampaignSentinel/internal/retry"
)

// ErrCycleRunning is reported when a cycle is requested while another is in progress.
var ErrCycleRunning = errors.New("monitoring cycle already running")

// Store is the persistence the engine needs.
type Store interface {
	ListActiveRules(ctx context.Context) ([]model.AlertRule, error)
	ListGoals(ctx context.Context) ([]model.Goal, error)
	SpendSince(ctx context.Context, unitID string, since time.Time) (float64, error)
	ShouldSuppress(ctx context.Context, ruleID, unitID string, typ model.AlertType, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Calculator provides per-unit progress.
type Calculator interface {
	Calculate(ctx context.Context, unitID string) (*model.CalculationResult, error)
}

// Renderer produces channel-specific notification content.
type Renderer interface {
	Render(ch model.Channel, a *model.Alert) (subject, content string, err error)
}

// Dispatcher delivers pending notifications.
type Dispatcher interface {
	DispatchPending(ctx context.Context) (sent int, err error)
}

// Config tunes the monitoring cycle.
type Config struct {
	MaxAlertsPerRun int           `yaml:"max_alerts_per_run"`
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
}

// CycleResult summarises one monitoring cycle.
type CycleResult struct {
	StartedAt         time.Time     `json:"started_at"`
	UnitsChecked      int           `json:"units_checked"`
	AlertsGenerated   int           `json:"alerts_generated"`
	AlertsSuppressed  int           `json:"alerts_suppressed"`
	NotificationsSent int           `json:"notifications_sent"`
	Errors            []string      `json:"errors"`
	Duration          time.Duration `json:"duration"`
}

func (r *CycleResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Engine runs monitoring cycles. Only one cycle runs at a time.
type Engine struct {
	store      Store
	calc       Calculator
	renderer   Renderer
	dispatcher Dispatcher
	rec        recorder.Recorder
	cfg        Config
	reads      retry.Backoff
	now        func() time.Time
	log        zerolog.Logger

	running atomic.Bool
}

// NewEngine creates an Engine. dispatcher and rec may be nil.
func NewEngine(st Store, calc Calculator, renderer Renderer, dispatcher Dispatcher, rec recorder.Recorder,
	cfg Config, now func() time.Time, log zerolog.Logger) *Engine {
	if cfg.MaxAlertsPerRun <= 0 {
		cfg.MaxAlertsPerRun = 50
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = time.Hour
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      st,
		calc:       calc,
		renderer:   renderer,
		dispatcher: dispatcher,
		rec:        rec,
		cfg:        cfg,
		reads:      retry.Read(),
		now:        now,
		log:        log.With().Str("service", "alerting").Logger(),
	}
}

// SetReadBackoff replaces the retry policy for store reads.
func (e *Engine) SetReadBackoff(b retry.Backoff) { e.reads = b }

func (e *Engine) onRetry(op string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		e.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("store read failed, retrying")
	}
}

// IsRunning reports whether a cycle is in progress.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// RunMonitoringCycle evaluates every unit with a goal against its resolved rules.
// A concurrent call returns at once with ErrCycleRunning in Errors and nothing checked.
func (e *Engine) RunMonitoringCycle(ctx context.Context) (res CycleResult) {
	start := e.now()
	res.StartedAt = start

	if !e.running.CompareAndSwap(false, true) {
		res.addError("%s", ErrCycleRunning.Error())
		e.rec.RecordCycle(&recorder.CycleEvent{Skipped: true})
		e.log.Warn().Msg("monitoring cycle skipped, previous cycle still running")
		return res
	}
	defer func() {
		res.Duration = e.now().Sub(start)
		e.running.Store(false)
		e.rec.RecordCycle(&recorder.CycleEvent{
			Duration:          res.Duration,
			UnitsChecked:      res.UnitsChecked,
			AlertsGenerated:   res.AlertsGenerated,
			AlertsSuppressed:  res.AlertsSuppressed,
			NotificationsSent: res.NotificationsSent,
			Errors:            len(res.Errors),
		})
		e.log.Info().
			Int("units", res.UnitsChecked).
			Int("generated", res.AlertsGenerated).
			Int("suppressed", res.AlertsSuppressed).
			Int("sent", res.NotificationsSent).
			Int("errors", len(res.Errors)).
			Dur("duration", res.Duration).
			Msg("monitoring cycle complete")
	}()

	rules, err := retry.Value(ctx, e.reads, e.store.ListActiveRules, nil, e.onRetry("list rules"))
	if err != nil {
		res.addError("load rules: %v", err)
		return res
	}
	goals, err := retry.Value(ctx, e.reads, e.store.ListGoals, nil, e.onRetry("list goals"))
	if err != nil {
		res.addError("load goals: %v", err)
		return res
	}

	for i := range goals {
		if err := ctx.Err(); err != nil {
			res.addError("cycle interrupted: %v", err)
			break
		}
		capped := res.AlertsGenerated >= e.cfg.MaxAlertsPerRun
		if !capped {
			res.UnitsChecked++
			capped = e.checkUnit(ctx, &goals[i], rules, &res)
		}
		if capped {
			unchecked := len(goals) - res.UnitsChecked
			res.addError("alert cap of %d reached, cycle stopped early with %d units unchecked", e.cfg.MaxAlertsPerRun, unchecked)
			e.log.Warn().Int("max_alerts_per_run", e.cfg.MaxAlertsPerRun).Int("unchecked", unchecked).Msg("alert cap reached, stopping cycle early")
			break
		}
	}

	if e.dispatcher != nil {
		sent, err := e.dispatcher.DispatchPending(ctx)
		res.NotificationsSent = sent
		if err != nil {
			res.addError("dispatch notifications: %v", err)
		}
	}
	return res
}

// checkUnit evaluates the unit's rules. It reports true when the alert cap left rules unevaluated.
func (e *Engine) checkUnit(ctx context.Context, g *model.Goal, rules []model.AlertRule, res *CycleResult) bool {
	applicable := ResolveRules(rules, g)
	if len(applicable) == 0 {
		return false
	}

	calc, err := e.calc.Calculate(ctx, g.UnitID)
	if err != nil {
		res.addError("unit %s: calculate: %v", g.UnitID, err)
		return false
	}
	spend, err := retry.Value(ctx, e.reads, func(ctx context.Context) (float64, error) {
		return e.store.SpendSince(ctx, g.UnitID, g.ContractStart)
	}, nil, e.onRetry("spend since"))
	if err != nil {
		e.log.Warn().Err(err).Str("unit_id", g.UnitID).Msg("spend unavailable, budget rules see zero spend")
	}
	snap := &Snapshot{Goal: *g, Calc: calc, SpendToDate: spend}

	for i := range applicable {
		if res.AlertsGenerated >= e.cfg.MaxAlertsPerRun {
			return true
		}
		rule := &applicable[i]
		ev, err := Evaluate(rule, snap)
		if err != nil {
			res.addError("unit %s rule %s: %v", g.UnitID, rule.ID, err)
			continue
		}
		if ev == nil {
			continue
		}

		cooldown := e.cfg.DefaultCooldown
		if rule.CooldownMinutes > 0 {
			cooldown = time.Duration(rule.CooldownMinutes) * time.Minute
		}
		since := e.now().Add(-cooldown)
		suppress, err := retry.Value(ctx, e.reads, func(ctx context.Context) (bool, error) {
			return e.store.ShouldSuppress(ctx, rule.ID, g.UnitID, rule.Type, since)
		}, nil, e.onRetry("suppression check"))
		if err != nil {
			res.addError("unit %s rule %s: suppression check: %v", g.UnitID, rule.ID, err)
			continue
		}
		if suppress {
			res.AlertsSuppressed++
			continue
		}

		if err := e.raise(ctx, rule, g, ev, res); err != nil {
			res.addError("unit %s rule %s: %v", g.UnitID, rule.ID, err)
			continue
		}
		res.AlertsGenerated++
	}
	return false
}

func (e *Engine) raise(ctx context.Context, rule *model.AlertRule, g *model.Goal, ev *Evaluation, res *CycleResult) error {
	now := e.now()
	alert := &model.Alert{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		UnitID:           g.UnitID,
		UnitName:         g.UnitName,
		Type:             rule.Type,
		Severity:         rule.Severity,
		Title:            ev.Title,
		Message:          ev.Message,
		Context:          ev.Context,
		SuggestedActions: ev.Actions,
		Status:           model.AlertActive,
		CreatedAt:        now,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	e.log.Info().
		Str("alert_id", alert.ID).
		Str("unit_id", g.UnitID).
		Str("type", string(rule.Type)).
		Str("severity", string(rule.Severity)).
		Msg("alert raised")

	for _, ch := range rule.Channels {
		subject, content, err := e.renderer.Render(ch, alert)
		if err != nil {
			res.addError("alert %s: render %s: %v", alert.ID, ch, err)
			continue
		}
		n := &model.Notification{
			ID:        uuid.NewString(),
			AlertID:   alert.ID,
			Channel:   ch,
			Subject:   subject,
			Content:   content,
			Status:    model.NotificationPending,
			CreatedAt: now,
		}
		if ch == model.ChannelEmail {
			n.Recipient = strings.Join(rule.Recipients, ",")
		}
		if err := e.store.CreateNotification(ctx, n); err != nil {
			res.addError("alert %s: schedule %s notification: %v", alert.ID, ch, err)
		}
	}
	return nil
}
