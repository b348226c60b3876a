package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-radar/internal/model"
)

// timeLayout stores timestamps as sortable UTC text so that range scans
// and per-day grouping work with plain string comparison.
const timeLayout = "2006-01-02 15:04:05.000"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Parent directories are created as needed.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS usage_events (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	account_id TEXT NOT NULL,
	user_id    TEXT,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_subscriptions (
	account_id TEXT PRIMARY KEY,
	plan_name  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_alerts (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_alert_state (
	account_id   TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	status       TEXT NOT NULL,
	last_sent_at TEXT,
	PRIMARY KEY (account_id, event_type)
);

CREATE INDEX IF NOT EXISTS idx_usage_events_type_created ON usage_events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_account ON usage_events(account_id, event_type);
CREATE INDEX IF NOT EXISTS idx_usage_alerts_account ON usage_alerts(account_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return storage(eris.Wrap(err, "sqlite: migrate"))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, event model.UsageEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return storage(eris.Wrap(err, "sqlite: marshal metadata"))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, event_type, account_id, user_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, event.EventType, NormalizeAccount(event.AccountID), nullable(event.UserID), string(metaJSON), formatTime(createdAt),
	)
	return storage(eris.Wrap(err, "sqlite: insert event"))
}

func (s *SQLiteStore) CountEvents(ctx context.Context, eventType, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE event_type = ? AND account_id = ? AND created_at >= ?`,
		eventType, NormalizeAccount(accountID), formatTime(since),
	).Scan(&count)
	if err != nil {
		return 0, storage(eris.Wrap(err, "sqlite: count events"))
	}
	return count, nil
}

func (s *SQLiteStore) Summarize(ctx context.Context, accountID string, since time.Time, eventType string) ([]model.UsageSummary, error) {
	query := `SELECT event_type, COUNT(*), MAX(created_at)
		FROM usage_events
		WHERE account_id = ? AND created_at >= ?`
	args := []any{NormalizeAccount(accountID), formatTime(since)}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` GROUP BY event_type ORDER BY event_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage(eris.Wrap(err, "sqlite: summarize"))
	}
	defer rows.Close()

	var summaries []model.UsageSummary
	for rows.Next() {
		var sum model.UsageSummary
		var last string
		if err := rows.Scan(&sum.EventType, &sum.Count, &last); err != nil {
			return nil, storage(eris.Wrap(err, "sqlite: scan summary"))
		}
		if t, err := parseTime(last); err == nil {
			sum.LastEventAt = &t
		}
		summaries = append(summaries, sum)
	}
	return summaries, storage(eris.Wrap(rows.Err(), "sqlite: iterate summaries"))
}

func (s *SQLiteStore) History(ctx context.Context, accountID string, since time.Time) ([]model.UsageHistoryEntry, error) {
	// created_at is UTC text, so its first 10 bytes are the UTC date.
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10), event_type, COUNT(*)
		 FROM usage_events
		 WHERE account_id = ? AND created_at >= ?
		 GROUP BY substr(created_at, 1, 10), event_type
		 ORDER BY substr(created_at, 1, 10), event_type`,
		NormalizeAccount(accountID), formatTime(since),
	)
	if err != nil {
		return nil, storage(eris.Wrap(err, "sqlite: history"))
	}
	defer rows.Close()

	var entries []model.UsageHistoryEntry
	for rows.Next() {
		var e model.UsageHistoryEntry
		if err := rows.Scan(&e.Date, &e.EventType, &e.Count); err != nil {
			return nil, storage(eris.Wrap(err, "sqlite: scan history"))
		}
		entries = append(entries, e)
	}
	return entries, storage(eris.Wrap(rows.Err(), "sqlite: iterate history"))
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, alert model.AlertRecord, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_alerts (id, account_id, event_type, status, message, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), NormalizeAccount(alert.AccountID), alert.EventType, string(alert.Status), alert.Message, metadata, formatTime(createdAt),
	)
	return storage(eris.Wrap(err, "sqlite: insert alert"))
}

func (s *SQLiteStore) RecentAlerts(ctx context.Context, accountID string, limit int) ([]model.AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, status, message, account_id, created_at
		 FROM usage_alerts
		 WHERE account_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		NormalizeAccount(accountID), limit,
	)
	if err != nil {
		return nil, storage(eris.Wrap(err, "sqlite: recent alerts"))
	}
	defer rows.Close()

	var alerts []model.AlertRecord
	for rows.Next() {
		var a model.AlertRecord
		var status, createdAt string
		if err := rows.Scan(&a.EventType, &status, &a.Message, &a.AccountID, &createdAt); err != nil {
			return nil, storage(eris.Wrap(err, "sqlite: scan alert"))
		}
		a.Status = model.QuotaStatus(status)
		if t, err := parseTime(createdAt); err == nil {
			a.CreatedAt = t
		}
		alerts = append(alerts, a)
	}
	return alerts, storage(eris.Wrap(rows.Err(), "sqlite: iterate alerts"))
}

func (s *SQLiteStore) AlertState(ctx context.Context, accountID, eventType string) (model.QuotaStatus, *time.Time, error) {
	var status string
	var lastSent sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT status, last_sent_at FROM usage_alert_state WHERE account_id = ? AND event_type = ?`,
		NormalizeAccount(accountID), eventType,
	).Scan(&status, &lastSent)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, storage(eris.Wrap(err, "sqlite: alert state"))
	}
	var sentAt *time.Time
	if lastSent.Valid {
		if t, err := parseTime(lastSent.String); err == nil {
			sentAt = &t
		}
	}
	return model.QuotaStatus(status), sentAt, nil
}

func (s *SQLiteStore) SetAlertState(ctx context.Context, accountID, eventType string, status model.QuotaStatus, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_alert_state (account_id, event_type, status, last_sent_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id, event_type) DO UPDATE SET
			status = excluded.status,
			last_sent_at = excluded.last_sent_at`,
		NormalizeAccount(accountID), eventType, string(status), formatTime(sentAt),
	)
	return storage(eris.Wrap(err, "sqlite: set alert state"))
}

func (s *SQLiteStore) ClearAlertState(ctx context.Context, accountID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_alert_state WHERE account_id = ? AND event_type = ?`,
		NormalizeAccount(accountID), eventType,
	)
	return storage(eris.Wrap(err, "sqlite: clear alert state"))
}

func (s *SQLiteStore) Subscription(ctx context.Context, accountID string) (string, error) {
	var planName string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_name FROM plan_subscriptions WHERE account_id = ?`,
		NormalizeAccount(accountID),
	).Scan(&planName)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storage(eris.Wrap(err, "sqlite: subscription"))
	}
	return planName, nil
}

func (s *SQLiteStore) SetSubscription(ctx context.Context, accountID, planName string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_subscriptions (account_id, plan_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			plan_name = excluded.plan_name,
			updated_at = excluded.updated_at`,
		NormalizeAccount(accountID), planName, now, now,
	)
	return storage(eris.Wrap(err, "sqlite: set subscription"))
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
