package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CampaignSentinel/internal/model"
)

func (s *SQLStore) GetGoal(ctx context.Context, unitID string) (*model.Goal, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT unit_id, unit_name, parent_id, volume_contracted,
		volume_captured, contract_start, contract_end, target_cpl, max_budget
		FROM goals WHERE unit_id = ?`), unitID)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", unitID, err)
	}
	return g, nil
}

func (s *SQLStore) ListGoals(ctx context.Context) ([]model.Goal, error) {
	rows, err := s.query(ctx, `SELECT unit_id, unit_name, parent_id, volume_contracted,
		volume_captured, contract_start, contract_end, target_cpl, max_budget
		FROM goals ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func (s *SQLStore) UpsertGoal(ctx context.Context, g *model.Goal) error {
	return s.exec(ctx, `INSERT INTO goals
		(unit_id, unit_name, parent_id, volume_contracted, volume_captured,
		 contract_start, contract_end, target_cpl, max_budget)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (unit_id) DO UPDATE SET
			unit_name = excluded.unit_name,
			parent_id = excluded.parent_id,
			volume_contracted = excluded.volume_contracted,
			volume_captured = excluded.volume_captured,
			contract_start = excluded.contract_start,
			contract_end = excluded.contract_end,
			target_cpl = excluded.target_cpl,
			max_budget = excluded.max_budget`,
		g.UnitID, g.UnitName, g.ParentID, g.VolumeContracted, g.VolumeCaptured,
		g.ContractStart.Unix(), g.ContractEnd.Unix(), g.TargetCPL, g.MaxBudget,
	)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(sc scanner) (*model.Goal, error) {
	var (
		g          model.Goal
		start, end int64
	)
	if err := sc.Scan(&g.UnitID, &g.UnitName, &g.ParentID, &g.VolumeContracted, &g.VolumeCaptured,
		&start, &end, &g.TargetCPL, &g.MaxBudget); err != nil {
		return nil, err
	}
	g.ContractStart = time.Unix(start, 0).UTC()
	g.ContractEnd = time.Unix(end, 0).UTC()
	return &g, nil
}

// ListDeliveries returns deliveries since the given time. An empty unitID selects every unit.
func (s *SQLStore) ListDeliveries(ctx context.Context, unitID string, since time.Time) ([]model.DeliveryRecord, error) {
	q := `SELECT unit_id, delivered_at, dedup_key FROM delivery_records WHERE delivered_at >= ?`
	args := []any{since.Unix()}
	if unitID != "" {
		q += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	q += ` ORDER BY delivered_at, unit_id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryRecord
	for rows.Next() {
		var (
			rec model.DeliveryRecord
			ts  int64
		)
		if err := rows.Scan(&rec.UnitID, &ts, &rec.DedupKey); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.DeliveredAt = time.Unix(ts, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddDelivery(ctx context.Context, rec *model.DeliveryRecord) error {
	return s.exec(ctx, `INSERT INTO delivery_records (unit_id, delivered_at, dedup_key) VALUES (?,?,?)`,
		rec.UnitID, rec.DeliveredAt.Unix(), rec.DedupKey)
}

// ListInsights returns insights in [since, until). An empty unitID selects every unit.
func (s *SQLStore) ListInsights(ctx context.Context, unitID string, since, until time.Time) ([]model.InsightRecord, error) {
	q := `SELECT unit_id, unit_name, date, spend, conversions, clicks, impressions, quality_score, contact_email
		FROM insight_records WHERE date >= ? AND date < ?`
	args := []any{since.Unix(), until.Unix()}
	if unitID != "" {
		q += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	q += ` ORDER BY date, unit_id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []model.InsightRecord
	for rows.Next() {
		var (
			rec  model.InsightRecord
			date int64
		)
		if err := rows.Scan(&rec.UnitID, &rec.UnitName, &date, &rec.Spend, &rec.Conversions,
			&rec.Clicks, &rec.Impressions, &rec.QualityScore, &rec.ContactEmail); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		rec.Date = time.Unix(date, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddInsight(ctx context.Context, rec *model.InsightRecord) error {
	return s.exec(ctx, `INSERT INTO insight_records
		(unit_id, unit_name, date, spend, conversions, clicks, impressions, quality_score, contact_email)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.UnitID, rec.UnitName, rec.Date.Unix(), rec.Spend, rec.Conversions,
		rec.Clicks, rec.Impressions, rec.QualityScore, rec.ContactEmail)
}

// ReplaceInsights swaps the unit's records in [since, until) for recs in one transaction.
func (s *SQLStore) ReplaceInsights(ctx context.Context, unitID string, since, until time.Time, recs []model.InsightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM insight_records
		WHERE unit_id = ? AND date >= ? AND date < ?`), unitID, since.Unix(), until.Unix()); err != nil {
		return fmt.Errorf("delete insights: %w", err)
	}
	insert := s.rebind(`INSERT INTO insight_records
		(unit_id, unit_name, date, spend, conversions, clicks, impressions, quality_score, contact_email)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, insert, unitID, rec.UnitName, rec.Date.Unix(), rec.Spend,
			rec.Conversions, rec.Clicks, rec.Impressions, rec.QualityScore, rec.ContactEmail); err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) SpendSince(ctx context.Context, unitID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT SUM(spend) FROM insight_records
		WHERE unit_id = ? AND date >= ?`), unitID, since.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total.Float64, nil
}
