package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"CampaignSentinel/internal/alerting"
	"CampaignSentinel/internal/anomaly"
	"CampaignSentinel/internal/budget"
	"CampaignSentinel/internal/calculator"
	"CampaignSentinel/internal/model"
)

// Calculator computes unit progress with per-request options.
type Calculator interface {
	CalculateWithOptions(ctx context.Context, unitID string, opts calculator.Options) (*model.CalculationResult, error)
}

// CacheInvalidator drops cached calculations of a unit.
type CacheInvalidator interface {
	Invalidate(unitID string) int
}

// Monitor runs monitoring cycles.
type Monitor interface {
	RunMonitoringCycle(ctx context.Context) alerting.CycleResult
}

// Detector runs the anomaly pipeline over supplied records.
type Detector interface {
	Detect(ctx context.Context, records []model.InsightRecord, cfg anomaly.Config) []model.DetectedAnomaly
}

// Scanner runs the anomaly pipeline over stored insights.
type Scanner interface {
	ScanAnomalies(ctx context.Context) ([]model.DetectedAnomaly, error)
}

// Budget applies and audits budget changes.
type Budget interface {
	ApplyBudgetAdjustment(ctx context.Context, req budget.Request) budget.Result
	ApplyBatch(ctx context.Context, reqs []budget.Request, opts budget.BatchOptions) budget.BatchResult
	CheckFrequency(ctx context.Context, unitID string) (model.FrequencyCheck, error)
	History(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error)
	Rollback(ctx context.Context, logID string) error
}

// Store is the persistence behind the goal, delivery, rule and alert endpoints.
type Store interface {
	GetGoal(ctx context.Context, unitID string) (*model.Goal, error)
	UpsertGoal(ctx context.Context, g *model.Goal) error
	AddDelivery(ctx context.Context, rec *model.DeliveryRecord) error
	SaveRule(ctx context.Context, r *model.AlertRule) error
	ListAlerts(ctx context.Context, unitID string, limit int) ([]model.Alert, error)
}

// Deps wires the server to the services. Metrics may be nil.
type Deps struct {
	Calc          Calculator
	Cache         CacheInvalidator
	Monitor       Monitor
	Detector      Detector
	Scanner       Scanner
	Budget        Budget
	Store         Store
	Metrics       http.Handler
	AnomalyConfig anomaly.Config
}

// Config holds server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Log            zerolog.Logger
	Now            func() time.Time
}

// Server is the operator HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	now    func() time.Time
	log    zerolog.Logger

	// serialises captured-volume updates
	deliveryMu sync.Mutex
}

// New creates a server.
func New(cfg Config, deps Deps) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		now:    cfg.Now,
		log:    cfg.Log.With().Str("service", "httpapi").Logger(),
	}
	s.setupMiddleware(cfg.AllowedOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics)
	}

	s.router.Route("/units/{unitID}", func(r chi.Router) {
		r.Get("/calculation", s.handleCalculation)
		r.Put("/goal", s.handlePutGoal)
		r.Post("/deliveries", s.handleDelivery)
	})
	s.router.Put("/rules/{ruleID}", s.handlePutRule)
	s.router.Get("/alerts", s.handleListAlerts)

	s.router.Post("/monitoring/run", s.handleRunMonitoring)
	s.router.Post("/anomalies/detect", s.handleDetect)

	s.router.Route("/budget", func(r chi.Router) {
		r.Post("/adjustments", s.handleAdjust)
		r.Post("/adjustments/batch", s.handleBatch)
		r.Post("/adjustments/{logID}/rollback", s.handleRollback)
		r.Get("/units/{unitID}/frequency", s.handleFrequency)
		r.Get("/units/{unitID}/history", s.handleHistory)
	})
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
