package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/budget"
	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/logging"
	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/notifier"
	"CampaignSentinel/internal/textgen"
)

// Config holds all application configuration.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"` // sqlite or postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Platform struct {
		Kind        string        `yaml:"kind"` // graph or fake
		BaseURL     string        `yaml:"base_url"`
		Version     string        `yaml:"version"`
		AccessToken string        `yaml:"access_token"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"platform"`
	Calculation struct {
		calculator.Options `yaml:",inline"`
		CacheTTL           time.Duration `yaml:"cache_ttl"`
	} `yaml:"calculation"`
	Anomaly struct {
		anomaly.Config `yaml:",inline"`
		LookbackDays   int `yaml:"lookback_days"`
	} `yaml:"anomaly"`
	TextGen  textgen.Config          `yaml:"textgen"`
	Alerting alerting.Config         `yaml:"alerting"`
	Dispatch notifier.DispatchConfig `yaml:"dispatch"`
	Budget   budget.Config           `yaml:"budget"`
	Schedule struct {
		MonitoringCron string        `yaml:"monitoring_cron"`
		AnomalyCron    string        `yaml:"anomaly_cron"`
		CachePurgeCron string        `yaml:"cache_purge_cron"`
		SyncCron       string        `yaml:"sync_cron"`
		JobTimeout     time.Duration `yaml:"job_timeout"`
		RunOnStart     bool          `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		Polling  bool   `yaml:"polling"`
	} `yaml:"telegram"`
	Email   notifier.EmailConfig `yaml:"email"`
	Webhook struct {
		URL     string        `yaml:"url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	HTTP struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Log   logging.Config `yaml:"log"`
	Proxy string         `yaml:"proxy"`
}

// Load reads config from a YAML file, then .env, then environment variable overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Engine tuning starts from the engine defaults so a partial YAML section keeps the rest.
	cfg.Calculation.Options = calculator.DefaultOptions()
	cfg.Anomaly.Config = anomaly.DefaultConfig()
	cfg.Budget = budget.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.DSN, "DB_DSN")
	setString(&cfg.Platform.Kind, "PLATFORM_KIND")
	setString(&cfg.Platform.BaseURL, "PLATFORM_BASE_URL")
	setString(&cfg.Platform.AccessToken, "PLATFORM_ACCESS_TOKEN")
	setString(&cfg.TextGen.BaseURL, "TEXTGEN_BASE_URL")
	setString(&cfg.TextGen.APIKey, "TEXTGEN_API_KEY")
	setString(&cfg.TextGen.Model, "TEXTGEN_MODEL")
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Email.Host, "SMTP_HOST")
	setString(&cfg.Email.Username, "SMTP_USER")
	setString(&cfg.Email.Password, "SMTP_PASS")
	setString(&cfg.Email.From, "SMTP_FROM")
	setString(&cfg.Webhook.URL, "WEBHOOK_URL")
	setString(&cfg.Webhook.Token, "WEBHOOK_TOKEN")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Schedule.MonitoringCron, "CRON_MONITORING")
	setString(&cfg.Schedule.AnomalyCron, "CRON_ANOMALY")
	setString(&cfg.Proxy, "HTTPS_PROXY")

	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Email.Port = port
		}
	}
	if v := os.Getenv("EMAIL_TO"); v != "" {
		cfg.Email.DefaultTo = strings.Split(v, ",")
	}
	if v := os.Getenv("BUDGET_DRY_RUN"); v != "" {
		cfg.Budget.DryRun = v == "true"
	}
	if v := os.Getenv("ANOMALY_SENSITIVITY"); v != "" {
		cfg.Anomaly.Sensitivity = model.Sensitivity(v)
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		cfg.Schedule.RunOnStart = v == "true"
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Log.Pretty = v == "true"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/campaign_sentinel.db"
	}
	if cfg.Platform.Kind == "" {
		cfg.Platform.Kind = "graph"
	}
	if cfg.Platform.BaseURL == "" {
		cfg.Platform.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Platform.Version == "" {
		cfg.Platform.Version = "v19.0"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 30 * time.Second
	}
	if cfg.Calculation.CacheTTL == 0 {
		cfg.Calculation.CacheTTL = calculator.DefaultCacheTTL
	}
	if cfg.Anomaly.Sensitivity == "" {
		cfg.Anomaly.Sensitivity = model.SensitivityMedium
	}
	if cfg.Anomaly.LookbackDays == 0 {
		cfg.Anomaly.LookbackDays = 30
	}
	if cfg.Schedule.MonitoringCron == "" {
		cfg.Schedule.MonitoringCron = "0 */30 * * * *"
	}
	if cfg.Schedule.AnomalyCron == "" {
		cfg.Schedule.AnomalyCron = "0 0 7 * * *"
	}
	if cfg.Schedule.CachePurgeCron == "" {
		cfg.Schedule.CachePurgeCron = "0 5 * * * *"
	}
	if cfg.Schedule.SyncCron == "" {
		cfg.Schedule.SyncCron = "0 15 * * * *"
	}
	if cfg.Schedule.JobTimeout == 0 {
		cfg.Schedule.JobTimeout = 10 * time.Minute
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = notifier.DefaultNATSSubject
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks that required fields are set and values are consistent.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Platform.Kind {
	case "graph":
		if c.Platform.AccessToken == "" {
			errs = append(errs, errors.New("platform.access_token is required"))
		}
	case "fake":
	default:
		errs = append(errs, fmt.Errorf("platform.kind must be graph or fake, got %q", c.Platform.Kind))
	}
	switch c.Anomaly.Sensitivity {
	case model.SensitivityLow, model.SensitivityMedium, model.SensitivityHigh:
	default:
		errs = append(errs, fmt.Errorf("anomaly.sensitivity must be low, medium or high, got %q", c.Anomaly.Sensitivity))
	}
	if c.Anomaly.EnableModel && c.TextGen.BaseURL == "" {
		errs = append(errs, errors.New("textgen.base_url is required when anomaly.enable_model is set"))
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram.bot_token and telegram.chat_id must be set together"))
	}
	if c.Email.Host != "" && c.Email.From == "" {
		errs = append(errs, errors.New("email.from is required when email.host is set"))
	}
	if c.Budget.MinBudget < 0 || (c.Budget.MaxBudget > 0 && c.Budget.MaxBudget < c.Budget.MinBudget) {
		errs = append(errs, errors.New("budget.min_budget must be >= 0 and <= budget.max_budget"))
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, spec := range map[string]string{
		"monitoring_cron":  c.Schedule.MonitoringCron,
		"anomaly_cron":     c.Schedule.AnomalyCron,
		"cache_purge_cron": c.Schedule.CachePurgeCron,
		"sync_cron":        c.Schedule.SyncCron,
	} {
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
