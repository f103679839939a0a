package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"CampaignSentinel/internal/model"
	"CampaignSentinel/internal/retry"
)

// Result summarises one sync run.
type Result struct {
	Units   int               `json:"units"`
	Records int               `json:"records"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Collector pulls platform insights for every tracked unit into the store.
type Collector struct {
	Fetcher      Fetcher
	Store        Store
	Cache        CacheInvalidator
	LookbackDays int
	Parallelism  int
	Retry        retry.Backoff // applied to store and platform reads

	now func() time.Time
	log zerolog.Logger
}

// NewCollector creates a Collector. cache may be nil.
func NewCollector(fetcher Fetcher, st Store, cache CacheInvalidator, lookbackDays int, now func() time.Time, log zerolog.Logger) *Collector {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	if now == nil {
		now = time.Now
	}
	return &Collector{
		Fetcher:      fetcher,
		Store:        st,
		Cache:        cache,
		LookbackDays: lookbackDays,
		Parallelism:  4,
		Retry:        retry.Read(),
		now:          now,
		log:          log.With().Str("service", "collector").Str("source", fetcher.Name()).Logger(),
	}
}

// Window returns the [since, until) range covered by a sync: the lookback days plus today.
func (c *Collector) Window() (time.Time, time.Time) {
	t := c.now().UTC()
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -c.LookbackDays), today.AddDate(0, 0, 1)
}

// Collect syncs every goal's unit. A failing unit is recorded and does not stop the others.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	goals, err := retry.Value(ctx, c.Retry, c.Store.ListGoals, nil, c.onRetry(""))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	since, until := c.Window()

	var mu sync.Mutex
	res := &Result{Failed: map[string]string{}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Parallelism))
	for _, goal := range goals {
		goal := goal
		g.Go(func() error {
			n, err := c.syncUnit(gctx, goal, since, until)
			mu.Lock()
			defer mu.Unlock()
			res.Units++
			if err != nil {
				res.Failed[goal.UnitID] = err.Error()
				c.log.Warn().Err(err).Str("unit", goal.UnitID).Msg("insight sync failed")
				return nil
			}
			res.Records += n
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	c.log.Info().Int("units", res.Units).Int("records", res.Records).Int("failed", len(res.Failed)).Msg("insight sync finished")
	return res, nil
}

// SyncUnit refreshes the insights of one unit.
func (c *Collector) SyncUnit(ctx context.Context, goal model.Goal) (int, error) {
	since, until := c.Window()
	return c.syncUnit(ctx, goal, since, until)
}

func (c *Collector) syncUnit(ctx context.Context, goal model.Goal, since, until time.Time) (int, error) {
	recs, err := retry.Value(ctx, c.Retry, func(ctx context.Context) ([]model.InsightRecord, error) {
		return c.Fetcher.FetchInsights(ctx, goal.UnitID, since, until)
	}, rejected, c.onRetry(goal.UnitID))
	if err != nil {
		return 0, fmt.Errorf("fetch insights: %w", err)
	}
	for i := range recs {
		if recs[i].UnitName == "" {
			recs[i].UnitName = goal.UnitName
		}
	}
	if err := c.Store.ReplaceInsights(ctx, goal.UnitID, since, until, recs); err != nil {
		return 0, fmt.Errorf("store insights: %w", err)
	}
	if c.Cache != nil {
		c.Cache.Invalidate(goal.UnitID)
	}
	return len(recs), nil
}

func (c *Collector) onRetry(unitID string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		c.log.Warn().Err(err).Str("unit", unitID).Int("attempt", attempt).Dur("wait", wait).Msg("read failed, retrying")
	}
}

// rejected reports platform errors that another attempt cannot fix.
func rejected(err error) bool {
	var ve *model.ValidationError
	return errors.As(err, &ve)
}
