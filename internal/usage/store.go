// Package usage provides the durable usage event store, plan quota
// evaluation, and the enforcement protocol wrapped around every metered
// action.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/lead-radar/internal/model"
)

// GlobalAccount scopes metering when no account identifier is supplied
// (single-tenant/demo mode).
const GlobalAccount = "__global__"

// NormalizeAccount maps an empty account ID onto the global sentinel.
func NormalizeAccount(accountID string) string {
	if accountID == "" {
		return GlobalAccount
	}
	return accountID
}

// Store is the append-only usage event log plus the plan subscription and
// alert bookkeeping that quota enforcement needs. Implementations must
// serialize writes sufficiently to keep counts accurate under concurrent
// recording.
type Store interface {
	// Events
	RecordEvent(ctx context.Context, event model.UsageEvent) error
	CountEvents(ctx context.Context, eventType, accountID string, since time.Time) (int, error)
	Summarize(ctx context.Context, accountID string, since time.Time, eventType string) ([]model.UsageSummary, error)
	History(ctx context.Context, accountID string, since time.Time) ([]model.UsageHistoryEntry, error)

	// Alerts
	InsertAlert(ctx context.Context, alert model.AlertRecord, metadata string) error
	RecentAlerts(ctx context.Context, accountID string, limit int) ([]model.AlertRecord, error)
	AlertState(ctx context.Context, accountID, eventType string) (model.QuotaStatus, *time.Time, error)
	SetAlertState(ctx context.Context, accountID, eventType string, status model.QuotaStatus, sentAt time.Time) error
	ClearAlertState(ctx context.Context, accountID, eventType string) error

	// Plan subscriptions
	Subscription(ctx context.Context, accountID string) (string, error)
	SetSubscription(ctx context.Context, accountID, planName string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// StorageError marks a fault in the usage event store. Metered actions
// must treat it as fatal: an action that cannot be durably counted must
// not proceed.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("usage store: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storage wraps a store-level error, passing nil through untouched.
func storage(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Err: err}
}

// QuotaExceededError rejects a metered action before execution. It names
// the event type, limit, and window so the caller can explain the
// rejection.
type QuotaExceededError struct {
	EventType  string
	Plan       string
	Limit      int
	Used       int
	WindowDays int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d events in the last %d days (plan %s)",
		e.EventType, e.Used, e.Limit, e.WindowDays, e.Plan)
}
