package collector

import (
	"context"
	"time"

	"CampaignSentinel/internal/model"
)

// Fetcher reads daily delivery insights from an ad platform.
type Fetcher interface {
	FetchInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error)
	Name() string
}

// Store is where synced insights land.
type Store interface {
	ListGoals(ctx context.Context) ([]model.Goal, error)
	ReplaceInsights(ctx context.Context, unitID string, since, until time.Time, recs []model.InsightRecord) error
}

// CacheInvalidator drops derived state for a unit after its inputs change.
type CacheInvalidator interface {
	Invalidate(unitID string) int
}
