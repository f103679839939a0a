package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CampaignSentinel/internal/model"
)

const adjustmentColumns = `id, unit_id, budget_type, old_budget, new_budget, amount_change, percent_change,
	reason, trigger_type, context, user_id, status, platform_response, error_message,
	created_at, updated_at, applied_at`

func (s *SQLStore) CreateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error {
	adjCtx, err := json.Marshal(l.Context)
	if err != nil {
		return fmt.Errorf("marshal adjustment context: %w", err)
	}
	return s.exec(ctx, `INSERT INTO budget_adjustment_logs (`+adjustmentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.UnitID, string(l.BudgetType), l.OldBudget, l.NewBudget, l.AmountChange, l.PercentChange,
		l.Reason, string(l.Trigger), string(adjCtx), l.UserID, string(l.Status), l.PlatformResponse,
		l.ErrorMessage, l.CreatedAt.Unix(), l.UpdatedAt.Unix(), toNullUnix(l.AppliedAt))
}

func (s *SQLStore) UpdateAdjustmentLog(ctx context.Context, l *model.BudgetAdjustmentLog) error {
	return s.exec(ctx, `UPDATE budget_adjustment_logs
		SET status = ?, platform_response = ?, error_message = ?, updated_at = ?, applied_at = ?
		WHERE id = ?`,
		string(l.Status), l.PlatformResponse, l.ErrorMessage, l.UpdatedAt.Unix(), toNullUnix(l.AppliedAt), l.ID)
}

func (s *SQLStore) GetAdjustmentLog(ctx context.Context, id string) (*model.BudgetAdjustmentLog, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+adjustmentColumns+`
		FROM budget_adjustment_logs WHERE id = ?`), id)
	l, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get adjustment log %s: %w", id, err)
	}
	return l, nil
}

func (s *SQLStore) ListAdjustmentLogs(ctx context.Context, unitID string, limit int) ([]model.BudgetAdjustmentLog, error) {
	rows, err := s.query(ctx, `SELECT `+adjustmentColumns+` FROM budget_adjustment_logs
		WHERE unit_id = ? ORDER BY created_at DESC LIMIT ?`, unitID, limit)
	if err != nil {
		return nil, fmt.Errorf("list adjustment logs: %w", err)
	}
	defer rows.Close()

	var out []model.BudgetAdjustmentLog
	for rows.Next() {
		l, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CheckAdjustmentFrequency counts applied adjustments in the trailing hour, ignoring excludeLogID.
func (s *SQLStore) CheckAdjustmentFrequency(ctx context.Context, unitID, excludeLogID string, now time.Time, limit int) (model.FrequencyCheck, error) {
	rows, err := s.query(ctx, `SELECT applied_at FROM budget_adjustment_logs
		WHERE unit_id = ? AND status = ? AND id <> ? AND applied_at > ?`,
		unitID, string(model.AdjustmentApplied), excludeLogID, now.Add(-FrequencyWindow).Unix())
	if err != nil {
		return model.FrequencyCheck{}, fmt.Errorf("frequency check: %w", err)
	}
	defer rows.Close()

	var applied []time.Time
	for rows.Next() {
		var ts sql.NullInt64
		if err := rows.Scan(&ts); err != nil {
			return model.FrequencyCheck{}, fmt.Errorf("scan applied_at: %w", err)
		}
		if t := fromNullUnix(ts); t != nil {
			applied = append(applied, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return model.FrequencyCheck{}, err
	}
	return frequencyFromTimes(applied, now, limit), nil
}

func scanAdjustment(sc scanner) (*model.BudgetAdjustmentLog, error) {
	var (
		l                model.BudgetAdjustmentLog
		adjCtx           string
		created, updated int64
		applied          sql.NullInt64
	)
	if err := sc.Scan(&l.ID, &l.UnitID, &l.BudgetType, &l.OldBudget, &l.NewBudget, &l.AmountChange,
		&l.PercentChange, &l.Reason, &l.Trigger, &adjCtx, &l.UserID, &l.Status, &l.PlatformResponse,
		&l.ErrorMessage, &created, &updated, &applied); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(adjCtx), &l.Context); err != nil {
		return nil, fmt.Errorf("adjustment %s context: %w", l.ID, err)
	}
	l.CreatedAt = time.Unix(created, 0).UTC()
	l.UpdatedAt = time.Unix(updated, 0).UTC()
	l.AppliedAt = fromNullUnix(applied)
	return &l, nil
}
