package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"CampaignSentinel/internal/model"
)

func (s *SQLStore) ListActiveRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.query(ctx, `SELECT id, name, type, severity, unit_id, parent_id, thresholds,
		channels, recipients, cooldown_minutes, active
		FROM alert_rules WHERE active = ? ORDER BY id`, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AlertRule
	for rows.Next() {
		var (
			r                                model.AlertRule
			thresholds, channels, recipients string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Severity, &r.UnitID, &r.ParentID,
			&thresholds, &channels, &recipients, &r.CooldownMinutes, &r.Active); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(thresholds), &r.Thresholds); err != nil {
			return nil, fmt.Errorf("rule %s thresholds: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
			return nil, fmt.Errorf("rule %s channels: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
			return nil, fmt.Errorf("rule %s recipients: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLStore) SaveRule(ctx context.Context, r *model.AlertRule) error {
	thresholds, err := json.Marshal(r.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	recipients, err := json.Marshal(r.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	return s.exec(ctx, `INSERT INTO alert_rules
		(id, name, type, severity, unit_id, parent_id, thresholds, channels, recipients, cooldown_minutes, active)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, type = excluded.type, severity = excluded.severity,
			unit_id = excluded.unit_id, parent_id = excluded.parent_id,
			thresholds = excluded.thresholds, channels = excluded.channels,
			recipients = excluded.recipients, cooldown_minutes = excluded.cooldown_minutes,
			active = excluded.active`,
		r.ID, r.Name, string(r.Type), string(r.Severity), r.UnitID, r.ParentID,
		string(thresholds), string(channels), string(recipients), r.CooldownMinutes, r.Active)
}

func (s *SQLStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	alertCtx, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("marshal alert context: %w", err)
	}
	actions, err := json.Marshal(a.SuggestedActions)
	if err != nil {
		return fmt.Errorf("marshal suggested actions: %w", err)
	}
	return s.exec(ctx, `INSERT INTO alerts
		(id, rule_id, unit_id, unit_name, type, severity, title, message, context, suggested_actions, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.RuleID, a.UnitID, a.UnitName, string(a.Type), string(a.Severity), a.Title, a.Message,
		string(alertCtx), string(actions), string(a.Status), a.CreatedAt.Unix())
}

// ShouldSuppress reports whether an alert for the same rule, unit and type was raised since the cutoff.
func (s *SQLStore) ShouldSuppress(ctx context.Context, ruleID, unitID string, typ model.AlertType, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM alerts
		WHERE rule_id = ? AND unit_id = ? AND type = ? AND created_at >= ?`),
		ruleID, unitID, string(typ), since.Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("suppression check: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, unitID string, limit int) ([]model.Alert, error) {
	q := `SELECT id, rule_id, unit_id, unit_name, type, severity, title, message, context,
		suggested_actions, status, created_at FROM alerts`
	var args []any
	if unitID != "" {
		q += ` WHERE unit_id = ?`
		args = append(args, unitID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a                 model.Alert
			alertCtx, actions string
			created           int64
		)
		if err := rows.Scan(&a.ID, &a.RuleID, &a.UnitID, &a.UnitName, &a.Type, &a.Severity, &a.Title,
			&a.Message, &alertCtx, &actions, &a.Status, &created); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(alertCtx), &a.Context); err != nil {
			return nil, fmt.Errorf("alert %s context: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(actions), &a.SuggestedActions); err != nil {
			return nil, fmt.Errorf("alert %s actions: %w", a.ID, err)
		}
		a.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return s.exec(ctx, `INSERT INTO alert_notifications
		(id, alert_id, channel, recipient, subject, content, status, attempts, last_error, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.AlertID, string(n.Channel), n.Recipient, n.Subject, n.Content, string(n.Status),
		n.Attempts, n.LastError, n.CreatedAt.Unix())
}

func (s *SQLStore) ListPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	rows, err := s.query(ctx, `SELECT id, alert_id, channel, recipient, subject, content, status,
		attempts, last_error, created_at, sent_at
		FROM alert_notifications WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(model.NotificationPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var (
			n       model.Notification
			created int64
			sent    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.AlertID, &n.Channel, &n.Recipient, &n.Subject, &n.Content,
			&n.Status, &n.Attempts, &n.LastError, &created, &sent); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = time.Unix(created, 0).UTC()
		n.SentAt = fromNullUnix(sent)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateNotification(ctx context.Context, n *model.Notification) error {
	return s.exec(ctx, `UPDATE alert_notifications
		SET status = ?, attempts = ?, last_error = ?, sent_at = ? WHERE id = ?`,
		string(n.Status), n.Attempts, n.LastError, toNullUnix(n.SentAt), n.ID)
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
