package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/budget"
	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/collector"
	"CampaignSentinel/internal/config"
	"CampaignSentinel/internal/httpapi"
	"CampaignSentinel/internal/logging"
	"CampaignSentinel/internal/notifier"
	"CampaignSentinel/internal/platform"
	"CampaignSentinel/internal/recorder"
	"CampaignSentinel/internal/scheduler"
	"CampaignSentinel/internal/store"
	"CampaignSentinel/internal/textgen"
)

type adPlatform interface {
	platform.Client
	platform.InsightFetcher
}

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config validation")
	}
	logger.Info().Str("config", cfgPath).Msg("CampaignSentinel starting")

	// Store
	st, err := store.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	// Ad platform
	var ads adPlatform
	if cfg.Platform.Kind == "fake" {
		ads = platform.NewFakeClient()
	} else {
		ads = platform.NewGraphClient(cfg.Platform.BaseURL, cfg.Platform.Version, cfg.Platform.AccessToken, cfg.Proxy, cfg.Platform.Timeout)
	}
	logger.Info().Str("platform", ads.Name()).Msg("ad platform ready")

	// Metrics
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		pr := recorder.NewPrometheusRecorder()
		rec = pr
		metricsHandler = pr.Handler()
	}

	calc := calculator.NewEngine(st, cfg.Calculation.Options, cfg.Calculation.CacheTTL, nil, logger)

	var gen anomaly.TextGenerator
	if cfg.Anomaly.EnableModel {
		gen = textgen.NewClient(cfg.TextGen)
	}
	detector := anomaly.NewDetector(gen, nil, logger)

	// Notification channels
	senders, tn, webhook, closeSenders := buildSenders(cfg, logger)
	defer closeSenders()
	dispatcher := notifier.NewDispatcher(st, senders, rec, cfg.Dispatch, nil, logger)
	monitor := alerting.NewEngine(st, calc, notifier.NewRenderer(), dispatcher, rec, cfg.Alerting, nil, logger)

	var changeNotifier budget.ChangeNotifier
	if webhook != nil {
		changeNotifier = webhook
	}
	budgets := budget.NewEngine(ads, st, changeNotifier, rec, cfg.Budget, nil, logger)

	col := collector.NewCollector(ads, st, calc.Cache(), cfg.Calculation.LookbackDays, nil, logger)

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := scheduler.Deps{
		Monitor:  monitor,
		Calc:     calc,
		Cache:    calc.Cache(),
		Detector: detector,
		Insights: st,
		Budget:   budgets,
		Syncer:   col,
		Recorder: rec,
	}
	if tn != nil {
		deps.Messenger = tn
	}
	sched := scheduler.NewScheduler(ctx, deps, scheduler.Config{
		MonitoringCron:      cfg.Schedule.MonitoringCron,
		AnomalyCron:         cfg.Schedule.AnomalyCron,
		CachePurgeCron:      cfg.Schedule.CachePurgeCron,
		SyncCron:            cfg.Schedule.SyncCron,
		JobTimeout:          cfg.Schedule.JobTimeout,
		AnomalyLookbackDays: cfg.Anomaly.LookbackDays,
		Anomaly:             cfg.Anomaly.Config,
	}, nil, logger)
	if err := sched.RegisterAll(); err != nil {
		logger.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()

	srv := httpapi.New(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            logger,
	}, httpapi.Deps{
		Calc:          calc,
		Cache:         calc.Cache(),
		Monitor:       monitor,
		Detector:      detector,
		Scanner:       sched,
		Budget:        budgets,
		Store:         st,
		Metrics:       metricsHandler,
		AnomalyConfig: cfg.Anomaly.Config,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	// Telegram commands
	if tn != nil && cfg.Telegram.Polling {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info().Msg("telegram polling started")
	}

	// Optional: run immediately on start
	if cfg.Schedule.RunOnStart {
		logger.Info().Msg("RUN_ON_START enabled, executing monitoring cycle now")
		go sched.RunMonitoringNow()
	}

	logger.Info().Msg("CampaignSentinel is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info().Msg("shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown")
	}
	sched.Stop()
	logger.Info().Msg("CampaignSentinel stopped")
}

// buildSenders creates a sender for every configured channel.
func buildSenders(cfg *config.Config, logger zerolog.Logger) ([]notifier.Sender, *notifier.TelegramNotifier, *notifier.WebhookSender, func()) {
	var (
		senders []notifier.Sender
		tn      *notifier.TelegramNotifier
		webhook *notifier.WebhookSender
		closers []func() error
	)
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		senders = append(senders, tn)
	}
	if cfg.Email.Host != "" {
		senders = append(senders, notifier.NewEmailSender(cfg.Email, logger))
	}
	if cfg.Webhook.URL != "" {
		webhook = notifier.NewWebhookSender(cfg.Webhook.URL, cfg.Webhook.Token, cfg.Webhook.Timeout, logger)
		senders = append(senders, webhook)
	}
	if cfg.NATS.URL != "" {
		ns, err := notifier.DialNATS(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, channel disabled")
		} else {
			senders = append(senders, ns)
			closers = append(closers, ns.Close)
		}
	}
	logger.Info().Int("channels", len(senders)).Msg("notification channels ready")
	return senders, tn, webhook, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("close sender")
			}
		}
	}
}
