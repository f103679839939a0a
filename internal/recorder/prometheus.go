package recorder

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CampaignSentinel/internal/model"
)

const namespace = "campaign_sentinel"

// PrometheusRecorder exposes counters on its own registry.
type PrometheusRecorder struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	unitsChecked  prometheus.Counter
	alerts        *prometheus.CounterVec
	cycleErrors   prometheus.Counter
	anomalies     *prometheus.CounterVec
	adjustments   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewPrometheusRecorder registers all collectors plus the Go and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "monitoring_cycles_total",
			Help: "Monitoring cycles by result (completed or skipped).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "monitoring_cycle_duration_seconds",
			Help:    "Duration of completed monitoring cycles.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		unitsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "units_checked_total",
			Help: "Units evaluated across monitoring cycles.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alerts by outcome (generated or suppressed).",
		}, []string{"outcome"}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "monitoring_errors_total",
			Help: "Per-rule and per-unit errors captured by monitoring cycles.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "anomalies_detected_total",
			Help: "Detected anomalies by type and severity.",
		}, []string{"type", "severity"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "budget_adjustments_total",
			Help: "Budget adjustment requests by status.",
		}, []string{"status", "dry_run"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification delivery attempts by channel and status.",
		}, []string{"channel", "status"}),
	}
	p.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.cycles, p.cycleDuration, p.unitsChecked, p.alerts, p.cycleErrors,
		p.anomalies, p.adjustments, p.notifications,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *PrometheusRecorder) RecordCycle(evt *CycleEvent) {
	if evt.Skipped {
		p.cycles.WithLabelValues("skipped").Inc()
		return
	}
	p.cycles.WithLabelValues("completed").Inc()
	p.cycleDuration.Observe(evt.Duration.Seconds())
	p.unitsChecked.Add(float64(evt.UnitsChecked))
	p.alerts.WithLabelValues("generated").Add(float64(evt.AlertsGenerated))
	p.alerts.WithLabelValues("suppressed").Add(float64(evt.AlertsSuppressed))
	p.cycleErrors.Add(float64(evt.Errors))
}

func (p *PrometheusRecorder) RecordAnomalies(found []model.DetectedAnomaly) {
	for _, a := range found {
		p.anomalies.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

func (p *PrometheusRecorder) RecordAdjustment(evt *AdjustmentEvent) {
	dry := "false"
	if evt.DryRun {
		dry = "true"
	}
	p.adjustments.WithLabelValues(evt.Status, dry).Inc()
}

func (p *PrometheusRecorder) RecordNotification(evt *NotificationEvent) {
	status := "failed"
	if evt.Sent {
		status = "sent"
	}
	p.notifications.WithLabelValues(string(evt.Channel), status).Inc()
}
