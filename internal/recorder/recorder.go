package recorder

import (
	"time"

	"CampaignSentinel/internal/model"
)

// CycleEvent summarises one monitoring cycle.
type CycleEvent struct {
	Duration          time.Duration
	UnitsChecked      int
	AlertsGenerated   int
	AlertsSuppressed  int
	NotificationsSent int
	Errors            int
	Skipped           bool // another cycle was already running
}

// AdjustmentEvent records the outcome of one budget adjustment request.
type AdjustmentEvent struct {
	UnitID string
	Status string // "applied", "failed", "blocked", "rejected"
	DryRun bool
}

// NotificationEvent records one delivery attempt.
type NotificationEvent struct {
	Channel model.Channel
	Sent    bool
}

// Recorder collects operational counters for dashboards.
type Recorder interface {
	RecordCycle(evt *CycleEvent)
	RecordAnomalies(found []model.DetectedAnomaly)
	RecordAdjustment(evt *AdjustmentEvent)
	RecordNotification(evt *NotificationEvent)
}
