package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/platform"
	"CampaignSentinel/internal/retry"
	"CampaignSentinel/internal/store"
)

var testNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

type countingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *countingCache) Invalidate(unitID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, unitID)
	return 1
}

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func TestWindow(t *testing.T) {
	c := NewCollector(platform.NewFakeClient(), store.NewMemoryStore(), nil, 7, func() time.Time { return testNow }, zerolog.Nop())
	since, until := c.Window()
	assert.Equal(t, day(3), since)
	assert.Equal(t, day(11), until)
}

func TestCollectReplacesInsights(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u1", UnitName: "North"}))
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u2", UnitName: "South"}))
	// stale row inside the window is replaced, the one before it survives
	require.NoError(t, st.AddInsight(ctx, &model.InsightRecord{UnitID: "u1", Date: day(9), Spend: 999}))
	require.NoError(t, st.AddInsight(ctx, &model.InsightRecord{UnitID: "u1", Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Spend: 1}))

	fake := platform.NewFakeClient()
	fake.SetInsights("u1", []model.InsightRecord{
		{Date: day(8), Spend: 40, Conversions: 2},
		{Date: day(9), Spend: 60, Conversions: 3},
	})
	fake.SetInsights("u2", []model.InsightRecord{{Date: day(9), Spend: 10, Conversions: 1}})
	cache := &countingCache{}

	c := NewCollector(fake, st, cache, 30, func() time.Time { return testNow }, zerolog.Nop())
	res, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Units)
	assert.Equal(t, 3, res.Records)
	assert.Empty(t, res.Failed)
	assert.ElementsMatch(t, []string{"u1", "u2"}, cache.invalidated)

	recs, err := st.ListInsights(ctx, "u1", day(1), day(11))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.InDelta(t, 60, recs[1].Spend, 1e-9)
	assert.Equal(t, "North", recs[1].UnitName)

	spend, err := st.SpendSince(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 101, spend, 1e-9)
}

func TestCollectIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u1"}))
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u2"}))

	fake := platform.NewFakeClient()
	fake.InsightErr = map[string]error{"u1": errors.New("token expired")}
	fake.SetInsights("u2", []model.InsightRecord{{Date: day(9), Conversions: 1}})

	c := NewCollector(fake, st, nil, 30, func() time.Time { return testNow }, zerolog.Nop())
	c.Retry = retry.New(time.Millisecond, 1, 0)
	res, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Contains(t, res.Failed["u1"], "token expired")
}

// hiccupFetcher fails the first fetch of every unit.
type hiccupFetcher struct {
	*platform.FakeClient
	mu    sync.Mutex
	calls map[string]int
}

func (h *hiccupFetcher) FetchInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error) {
	h.mu.Lock()
	h.calls[unitID]++
	n := h.calls[unitID]
	h.mu.Unlock()
	if n == 1 {
		return nil, &model.ExternalServiceError{Service: "graph", Op: "insights", Err: errors.New("502 bad gateway")}
	}
	return h.FakeClient.FetchInsights(ctx, unitID, since, until)
}

func TestCollectRetriesTransientFetchErrors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u1"}))

	fake := platform.NewFakeClient()
	fake.SetInsights("u1", []model.InsightRecord{{Date: day(9), Conversions: 2}})
	f := &hiccupFetcher{FakeClient: fake, calls: map[string]int{}}

	c := NewCollector(f, st, nil, 30, func() time.Time { return testNow }, zerolog.Nop())
	c.Retry = retry.New(time.Millisecond, 2, 0)
	res, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 2, f.calls["u1"])
}

func TestCollectDoesNotRetryRejectedUnits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.UpsertGoal(ctx, &model.Goal{UnitID: "u1"}))

	fake := platform.NewFakeClient()
	fake.InsightErr = map[string]error{"u1": &model.ValidationError{Field: "unit_id", Reason: "unknown unit"}}
	c := NewCollector(fake, st, nil, 30, func() time.Time { return testNow }, zerolog.Nop())
	c.Retry = retry.New(time.Hour, 2, 0)

	res, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Contains(t, res.Failed["u1"], "unknown unit")
}
