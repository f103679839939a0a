package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLStore persists the control loop tables in SQLite or Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
	log    zerolog.Logger
}

// NewSQLStore opens (or creates) the database and runs migrations.
// driver is "sqlite" or "postgres".
func NewSQLStore(driver, dsn string, log zerolog.Logger) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// WAL mode lets the HTTP API read while the scheduler writes.
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver, log: log.With().Str("service", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("driver", driver).Msg("store opened")
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS goals (
			unit_id           TEXT PRIMARY KEY,
			unit_name         TEXT NOT NULL DEFAULT '',
			parent_id         TEXT NOT NULL DEFAULT '',
			volume_contracted INTEGER NOT NULL,
			volume_captured   INTEGER NOT NULL DEFAULT 0,
			contract_start    BIGINT NOT NULL,
			contract_end      BIGINT NOT NULL,
			target_cpl        REAL NOT NULL DEFAULT 0,
			max_budget        REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS delivery_records (
			unit_id      TEXT NOT NULL,
			delivered_at BIGINT NOT NULL,
			dedup_key    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_unit_ts ON delivery_records(unit_id, delivered_at)`,

		`CREATE TABLE IF NOT EXISTS insight_records (
			unit_id       TEXT NOT NULL,
			unit_name     TEXT NOT NULL DEFAULT '',
			date          BIGINT NOT NULL,
			spend         REAL NOT NULL DEFAULT 0,
			conversions   INTEGER NOT NULL DEFAULT 0,
			clicks        INTEGER NOT NULL DEFAULT 0,
			impressions   INTEGER NOT NULL DEFAULT 0,
			quality_score REAL NOT NULL DEFAULT 0,
			contact_email TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_insight_unit_date ON insight_records(unit_id, date)`,

		`CREATE TABLE IF NOT EXISTS alert_rules (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			type             TEXT NOT NULL,
			severity         TEXT NOT NULL,
			unit_id          TEXT NOT NULL DEFAULT '',
			parent_id        TEXT NOT NULL DEFAULT '',
			thresholds       TEXT NOT NULL DEFAULT '{}',
			channels         TEXT NOT NULL DEFAULT '[]',
			recipients       TEXT NOT NULL DEFAULT '[]',
			cooldown_minutes INTEGER NOT NULL DEFAULT 0,
			active           BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id                TEXT PRIMARY KEY,
			rule_id           TEXT NOT NULL,
			unit_id           TEXT NOT NULL,
			unit_name         TEXT NOT NULL DEFAULT '',
			type              TEXT NOT NULL,
			severity          TEXT NOT NULL,
			title             TEXT NOT NULL,
			message           TEXT NOT NULL,
			context           TEXT NOT NULL DEFAULT '{}',
			suggested_actions TEXT NOT NULL DEFAULT '[]',
			status            TEXT NOT NULL,
			created_at        BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(rule_id, unit_id, type, created_at)`,

		`CREATE TABLE IF NOT EXISTS alert_notifications (
			id         TEXT PRIMARY KEY,
			alert_id   TEXT NOT NULL,
			channel    TEXT NOT NULL,
			recipient  TEXT NOT NULL DEFAULT '',
			subject    TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			status     TEXT NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			sent_at    BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_status ON alert_notifications(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS budget_adjustment_logs (
			id                TEXT PRIMARY KEY,
			unit_id           TEXT NOT NULL,
			budget_type       TEXT NOT NULL,
			old_budget        REAL NOT NULL,
			new_budget        REAL NOT NULL,
			amount_change     REAL NOT NULL,
			percent_change    REAL NOT NULL,
			reason            TEXT NOT NULL DEFAULT '',
			trigger_type      TEXT NOT NULL,
			context           TEXT NOT NULL DEFAULT '{}',
			user_id           TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			platform_response TEXT NOT NULL DEFAULT '',
			error_message     TEXT NOT NULL DEFAULT '',
			created_at        BIGINT NOT NULL,
			updated_at        BIGINT NOT NULL,
			applied_at        BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_logs_unit ON budget_adjustment_logs(unit_id, status, applied_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	s.log.Info().Msg("closing store")
	return s.db.Close()
}
