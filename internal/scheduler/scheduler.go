package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/collector"
	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/notifier"
	"CampaignSentinel/internal/recorder"
	"CampaignSentinel/internal/retry"
)

// Monitor runs alert monitoring cycles.
type Monitor interface {
	RunMonitoringCycle(ctx context.Context) alerting.CycleResult
}

// Calculator computes unit progress.
type Calculator interface {
	Calculate(ctx context.Context, unitID string) (*model.CalculationResult, error)
}

// CachePurger evicts expired calculation results.
type CachePurger interface {
	Purge() int
}

// Detector scans insight records and delivered leads for anomalies.
type Detector interface {
	DetectWithDeliveries(ctx context.Context, records []model.InsightRecord, deliveries []model.DeliveryRecord,
		cfg anomaly.Config) []model.DetectedAnomaly
}

// InsightSource reads stored insights and deliveries; an empty unit id means all units.
type InsightSource interface {
	ListInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error)
	ListDeliveries(ctx context.Context, unitID string, since time.Time) ([]model.DeliveryRecord, error)
}

// FrequencyChecker exposes the budget adjustment cap.
type FrequencyChecker interface {
	CheckFrequency(ctx context.Context, unitID string) (model.FrequencyCheck, error)
}

// Syncer refreshes insights from the ad platform.
type Syncer interface {
	Collect(ctx context.Context) (*collector.Result, error)
}

// Messenger sends operator messages.
type Messenger interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Deps are the services the jobs drive. Syncer and Messenger are optional.
type Deps struct {
	Monitor   Monitor
	Calc      Calculator
	Cache     CachePurger
	Detector  Detector
	Insights  InsightSource
	Budget    FrequencyChecker
	Syncer    Syncer
	Messenger Messenger
	Recorder  recorder.Recorder
}

// Config holds cron specs (with seconds) and job tuning.
type Config struct {
	MonitoringCron      string
	AnomalyCron         string
	CachePurgeCron      string
	SyncCron            string
	JobTimeout          time.Duration
	AnomalyLookbackDays int
	Anomaly             anomaly.Config
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron

	deps Deps
	cfg   Config
	reads retry.Backoff
	ctx   context.Context
	now   func() time.Time
	log   zerolog.Logger
}

// NewScheduler creates a new Scheduler. ctx bounds every job.
func NewScheduler(ctx context.Context, deps Deps, cfg Config, now func() time.Time, log zerolog.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.AnomalyLookbackDays <= 0 {
		cfg.AnomalyLookbackDays = 30
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		Cron:  cron.New(cron.WithSeconds()),
		deps:  deps,
		cfg:   cfg,
		reads: retry.Read(),
		ctx:   ctx,
		now:   now,
		log:   log.With().Str("service", "scheduler").Logger(),
	}
}

type job struct {
	name string
	spec string
	fn   func()
}

// RegisterAll registers the monitoring, anomaly, cache-purge and (when a syncer is set) sync jobs.
func (s *Scheduler) RegisterAll() error {
	jobs := []job{
		{"monitoring", s.cfg.MonitoringCron, s.monitoringTask},
		{"anomaly", s.cfg.AnomalyCron, s.anomalyTask},
		{"cache purge", s.cfg.CachePurgeCron, s.cachePurgeTask},
	}
	if s.deps.Syncer != nil {
		jobs = append(jobs, job{"insight sync", s.cfg.SyncCron, s.syncTask})
	}
	for _, j := range jobs {
		if _, err := s.Cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunMonitoringNow executes a monitoring cycle immediately (manual trigger / RUN_ON_START).
func (s *Scheduler) RunMonitoringNow() alerting.CycleResult {
	ctx, cancel := s.jobContext()
	defer cancel()
	return s.deps.Monitor.RunMonitoringCycle(ctx)
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.JobTimeout)
}

func (s *Scheduler) monitoringTask() {
	s.log.Info().Msg("running monitoring task")
	res := s.RunMonitoringNow()
	if res.AlertsGenerated > 0 || len(res.Errors) > 0 {
		s.trySend(notifier.FormatCycleResult(&res))
	}
}

func (s *Scheduler) anomalyTask() {
	s.log.Info().Msg("running anomaly scan")
	ctx, cancel := s.jobContext()
	defer cancel()
	found, err := s.ScanAnomalies(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("anomaly scan")
		s.trySend(fmt.Sprintf("❌ Anomaly scan failed: %s", html.EscapeString(err.Error())))
		return
	}
	s.trySend(notifier.FormatAnomalyDigest(found, s.now()))
}

func (s *Scheduler) cachePurgeTask() {
	n := s.deps.Cache.Purge()
	s.log.Debug().Int("evicted", n).Msg("calculation cache purged")
}

func (s *Scheduler) syncTask() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.deps.Syncer.Collect(ctx); err != nil {
		s.log.Error().Err(err).Msg("insight sync")
	}
}

// ScanAnomalies runs the detector over every unit's insights and deliveries in the lookback window.
func (s *Scheduler) ScanAnomalies(ctx context.Context) ([]model.DetectedAnomaly, error) {
	t := s.now().UTC()
	until := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	since := until.AddDate(0, 0, -s.cfg.AnomalyLookbackDays-1)
	onRetry := func(attempt int, wait time.Duration, err error) {
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("anomaly scan read failed, retrying")
	}

	recs, err := retry.Value(ctx, s.reads, func(ctx context.Context) ([]model.InsightRecord, error) {
		return s.deps.Insights.ListInsights(ctx, "", since, until)
	}, nil, onRetry)
	if err != nil {
		return nil, fmt.Errorf("load insights: %w", err)
	}
	all, err := retry.Value(ctx, s.reads, func(ctx context.Context) ([]model.DeliveryRecord, error) {
		return s.deps.Insights.ListDeliveries(ctx, "", since)
	}, nil, onRetry)
	if err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	deliveries := all[:0]
	for _, d := range all {
		if d.DeliveredAt.Before(until) {
			deliveries = append(deliveries, d)
		}
	}

	found := s.deps.Detector.DetectWithDeliveries(ctx, recs, deliveries, s.cfg.Anomaly)
	s.deps.Recorder.RecordAnomalies(found)
	s.log.Info().Int("records", len(recs)).Int("deliveries", len(deliveries)).Int("anomalies", len(found)).Msg("anomaly scan finished")
	return found, nil
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.HelpText
	}
	// Telegram appends the bot name in groups: /status@sentinel_bot
	cmd, _, _ := strings.Cut(fields[0], "@")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/cycle":
		res := s.RunMonitoringNow()
		return notifier.FormatCycleResult(&res)
	case "/status":
		if arg == "" {
			return "Usage: /status &lt;unit&gt;"
		}
		calc, err := s.deps.Calc.Calculate(ctx, arg)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatCalculation(calc)
	case "/anomalies":
		found, err := s.ScanAnomalies(ctx)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatAnomalyDigest(found, s.now())
	case "/frequency":
		if arg == "" {
			return "Usage: /frequency &lt;unit&gt;"
		}
		fc, err := s.deps.Budget.CheckFrequency(ctx, arg)
		if err != nil {
			return replyError(err)
		}
		return notifier.FormatFrequency(arg, fc)
	case "/sync":
		if s.deps.Syncer == nil {
			return "Insight sync is not configured"
		}
		res, err := s.deps.Syncer.Collect(ctx)
		if err != nil {
			return replyError(err)
		}
		return fmt.Sprintf("🔄 Synced %d records for %d units (%d failed)", res.Records, res.Units, len(res.Failed))
	default:
		return notifier.HelpText
	}
}

func replyError(err error) string {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return "⚠️ " + html.EscapeString(ve.Error())
	}
	return "❌ " + html.EscapeString(err.Error())
}

func (s *Scheduler) trySend(text string) {
	if s.deps.Messenger == nil {
		return
	}
	if err := s.deps.Messenger.SendWithRetry(s.ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
