package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"CampaignSentinel/internal/model"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu            sync.RWMutex
	goals         map[string]model.Goal
	deliveries    []model.DeliveryRecord
	insights      []model.InsightRecord
	rules         map[string]model.AlertRule
	alerts        []model.Alert
	notifications []model.Notification
	adjustments   []model.BudgetAdjustmentLog
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		goals: make(map[string]model.Goal),
		rules: make(map[string]model.AlertRule),
	}
}

func (m *MemoryStore) GetGoal(_ context.Context, unitID string) (*model.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[unitID]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *MemoryStore) ListGoals(_ context.Context) ([]model.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Goal, 0, len(m.goals))
	for _, g := range m.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (m *MemoryStore) UpsertGoal(_ context.Context, g *model.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.UnitID] = *g
	return nil
}

func (m *MemoryStore) ListDeliveries(_ context.Context, unitID string, since time.Time) ([]model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.DeliveryRecord
	for _, d := range m.deliveries {
		if (unitID == "" || d.UnitID == unitID) && !d.DeliveredAt.Before(since) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DeliveredAt.Equal(out[j].DeliveredAt) {
			return out[i].DeliveredAt.Before(out[j].DeliveredAt)
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out, nil
}

func (m *MemoryStore) AddDelivery(_ context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, *rec)
	return nil
}

func (m *MemoryStore) ListInsights(_ context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.InsightRecord
	for _, r := range m.insights {
		if unitID != "" && r.UnitID != unitID {
			continue
		}
		if r.Date.Before(since) || !r.Date.Before(until) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out, nil
}

func (m *MemoryStore) AddInsight(_ context.Context, rec *model.InsightRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, *rec)
	return nil
}

func (m *MemoryStore) ReplaceInsights(_ context.Context, unitID string, since, until time.Time, recs []model.InsightRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.insights[:0]
	for _, r := range m.insights {
		if r.UnitID == unitID && !r.Date.Before(since) && r.Date.Before(until) {
			continue
		}
		kept = append(kept, r)
	}
	m.insights = kept
	for _, r := range recs {
		r.UnitID = unitID
		m.insights = append(m.insights, r)
	}
	return nil
}

func (m *MemoryStore) SpendSince(_ context.Context, unitID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, r := range m.insights {
		if r.UnitID == unitID && !r.Date.Before(since) {
			total += r.Spend
		}
	}
	return total, nil
}

func (m *MemoryStore) ListActiveRules(_ context.Context) ([]model.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AlertRule
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveRule(_ context.Context, r *model.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = *r
	return nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, a *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *MemoryStore) ShouldSuppress(_ context.Context, ruleID, unitID string, typ model.AlertType, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.RuleID == ruleID && a.UnitID == unitID && a.Type == typ && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, unitID string, limit int) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if unitID == "" || m.alerts[i].UnitID == unitID {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *MemoryStore) ListPendingNotifications(_ context.Context, limit int) ([]model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Notification
	for _, n := range m.notifications {
		if n.Status == model.NotificationPending && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == n.ID {
			m.notifications[i] = *n
			return nil
		}
	}
	return ErrNotFound
}

// Notifications returns a copy of every notification, for inspection in tests.
func (m *MemoryStore) Notifications() []model.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Notification(nil), m.notifications...)
}

func (m *MemoryStore) CreateAdjustmentLog(_ context.Context, l *model.BudgetAdjustmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments = append(m.adjustments, *l)
	return nil
}

func (m *MemoryStore) UpdateAdjustmentLog(_ context.Context, l *model.BudgetAdjustmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.adjustments {
		if m.adjustments[i].ID == l.ID {
			m.adjustments[i] = *l
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) GetAdjustmentLog(_ context.Context, id string) (*model.BudgetAdjustmentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.adjustments {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListAdjustmentLogs(_ context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BudgetAdjustmentLog
	for i := len(m.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
		if m.adjustments[i].UnitID == unitID {
			out = append(out, m.adjustments[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) CheckAdjustmentFrequency(_ context.Context, unitID, excludeLogID string, now time.Time, limit int) (model.FrequencyCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var applied []time.Time
	for _, l := range m.adjustments {
		if l.UnitID != unitID || l.ID == excludeLogID || l.Status != model.AdjustmentApplied || l.AppliedAt == nil {
			continue
		}
		applied = append(applied, *l.AppliedAt)
	}
	return frequencyFromTimes(applied, now, limit), nil
}

func (m *MemoryStore) Close() error { return nil }
