package usage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-radar/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on top of a pgx connection pool. It is
// the multi-instance deployment option; SQLite covers single-node.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// NewPostgres connects a pool to the given DSN and verifies it with a
// ping.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse dsn")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS usage_events (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	event_type TEXT NOT NULL,
	account_id TEXT NOT NULL,
	user_id    TEXT,
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plan_subscriptions (
	account_id TEXT PRIMARY KEY,
	plan_name  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_alerts (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	account_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_alert_state (
	account_id   TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	status       TEXT NOT NULL,
	last_sent_at TIMESTAMPTZ,
	PRIMARY KEY (account_id, event_type)
);

CREATE INDEX IF NOT EXISTS idx_usage_events_type_created ON usage_events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_account ON usage_events(account_id, event_type);
CREATE INDEX IF NOT EXISTS idx_usage_alerts_account ON usage_alerts(account_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return storage(eris.Wrap(err, "postgres: migrate"))
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event model.UsageEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return storage(eris.Wrap(err, "postgres: marshal metadata"))
	}

	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO usage_events (event_type, account_id, user_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5)`,
		event.EventType, NormalizeAccount(event.AccountID), userID, metaJSON, createdAt.UTC(),
	)
	return storage(eris.Wrap(err, "postgres: insert event"))
}

func (s *PostgresStore) CountEvents(ctx context.Context, eventType, accountID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE event_type = $1 AND account_id = $2 AND created_at >= $3`,
		eventType, NormalizeAccount(accountID), since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, storage(eris.Wrap(err, "postgres: count events"))
	}
	return count, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, accountID string, since time.Time, eventType string) ([]model.UsageSummary, error) {
	query := `SELECT event_type, COUNT(*), MAX(created_at)
		FROM usage_events
		WHERE account_id = $1 AND created_at >= $2`
	args := []any{NormalizeAccount(accountID), since.UTC()}
	if eventType != "" {
		query += ` AND event_type = $3`
		args = append(args, eventType)
	}
	query += ` GROUP BY event_type ORDER BY event_type`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storage(eris.Wrap(err, "postgres: summarize"))
	}
	defer rows.Close()

	var summaries []model.UsageSummary
	for rows.Next() {
		var sum model.UsageSummary
		var last time.Time
		if err := rows.Scan(&sum.EventType, &sum.Count, &last); err != nil {
			return nil, storage(eris.Wrap(err, "postgres: scan summary"))
		}
		sum.LastEventAt = &last
		summaries = append(summaries, sum)
	}
	return summaries, storage(eris.Wrap(rows.Err(), "postgres: iterate summaries"))
}

func (s *PostgresStore) History(ctx context.Context, accountID string, since time.Time) ([]model.UsageHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD'), event_type, COUNT(*)
		 FROM usage_events
		 WHERE account_id = $1 AND created_at >= $2
		 GROUP BY 1, event_type
		 ORDER BY 1, event_type`,
		NormalizeAccount(accountID), since.UTC(),
	)
	if err != nil {
		return nil, storage(eris.Wrap(err, "postgres: history"))
	}
	defer rows.Close()

	var entries []model.UsageHistoryEntry
	for rows.Next() {
		var e model.UsageHistoryEntry
		if err := rows.Scan(&e.Date, &e.EventType, &e.Count); err != nil {
			return nil, storage(eris.Wrap(err, "postgres: scan history"))
		}
		entries = append(entries, e)
	}
	return entries, storage(eris.Wrap(rows.Err(), "postgres: iterate history"))
}

func (s *PostgresStore) InsertAlert(ctx context.Context, alert model.AlertRecord, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_alerts (account_id, event_type, status, message, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		NormalizeAccount(alert.AccountID), alert.EventType, string(alert.Status), alert.Message, []byte(metadata), createdAt.UTC(),
	)
	return storage(eris.Wrap(err, "postgres: insert alert"))
}

func (s *PostgresStore) RecentAlerts(ctx context.Context, accountID string, limit int) ([]model.AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, status, message, account_id, created_at
		 FROM usage_alerts
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		NormalizeAccount(accountID), limit,
	)
	if err != nil {
		return nil, storage(eris.Wrap(err, "postgres: recent alerts"))
	}
	defer rows.Close()

	var alerts []model.AlertRecord
	for rows.Next() {
		var a model.AlertRecord
		var status string
		if err := rows.Scan(&a.EventType, &status, &a.Message, &a.AccountID, &a.CreatedAt); err != nil {
			return nil, storage(eris.Wrap(err, "postgres: scan alert"))
		}
		a.Status = model.QuotaStatus(status)
		alerts = append(alerts, a)
	}
	return alerts, storage(eris.Wrap(rows.Err(), "postgres: iterate alerts"))
}

func (s *PostgresStore) AlertState(ctx context.Context, accountID, eventType string) (model.QuotaStatus, *time.Time, error) {
	var status string
	var lastSent *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT status, last_sent_at FROM usage_alert_state WHERE account_id = $1 AND event_type = $2`,
		NormalizeAccount(accountID), eventType,
	).Scan(&status, &lastSent)
	if err == pgx.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, storage(eris.Wrap(err, "postgres: alert state"))
	}
	return model.QuotaStatus(status), lastSent, nil
}

func (s *PostgresStore) SetAlertState(ctx context.Context, accountID, eventType string, status model.QuotaStatus, sentAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_alert_state (account_id, event_type, status, last_sent_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, event_type) DO UPDATE SET
			status = EXCLUDED.status,
			last_sent_at = EXCLUDED.last_sent_at`,
		NormalizeAccount(accountID), eventType, string(status), sentAt.UTC(),
	)
	return storage(eris.Wrap(err, "postgres: set alert state"))
}

func (s *PostgresStore) ClearAlertState(ctx context.Context, accountID, eventType string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM usage_alert_state WHERE account_id = $1 AND event_type = $2`,
		NormalizeAccount(accountID), eventType,
	)
	return storage(eris.Wrap(err, "postgres: clear alert state"))
}

func (s *PostgresStore) Subscription(ctx context.Context, accountID string) (string, error) {
	var planName string
	err := s.pool.QueryRow(ctx,
		`SELECT plan_name FROM plan_subscriptions WHERE account_id = $1`,
		NormalizeAccount(accountID),
	).Scan(&planName)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storage(eris.Wrap(err, "postgres: subscription"))
	}
	return planName, nil
}

func (s *PostgresStore) SetSubscription(ctx context.Context, accountID, planName string) error {
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO plan_subscriptions (account_id, plan_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id) DO UPDATE SET
			plan_name = EXCLUDED.plan_name,
			updated_at = EXCLUDED.updated_at`,
		NormalizeAccount(accountID), planName, now, now,
	)
	return storage(eris.Wrap(err, "postgres: set subscription"))
}
