package recorder

import "CampaignSentinel/internal/model"

// NoopRecorder is used when metrics are disabled and in tests.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordCycle(_ *CycleEvent)                 {}
func (n *NoopRecorder) RecordAnomalies(_ []model.DetectedAnomaly) {}
func (n *NoopRecorder) RecordAdjustment(_ *AdjustmentEvent)       {}
func (n *NoopRecorder) RecordNotification(_ *NotificationEvent)   {}
