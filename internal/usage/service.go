package usage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/plan"
)

// warningThreshold is the fraction of a limit at which quota status turns
// to warning.
const warningThreshold = 0.9

// Service evaluates plan quotas and wraps metered actions in the
// check-act-record protocol.
type Service struct {
	store   Store
	catalog *plan.Catalog
	enabled bool

	alerter     Alerter
	minInterval time.Duration

	// locks serializes check-act-record per (account, event type) so
	// concurrent metered actions cannot both pass a boundary check.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewService builds the quota service. A nil alerter disables webhook
// delivery; alerts are still persisted.
func NewService(store Store, catalog *plan.Catalog, enabled bool, alerter Alerter, minInterval time.Duration) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		enabled:     enabled,
		alerter:     alerter,
		minInterval: minInterval,
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

func (s *Service) lockFor(accountID, eventType string) *sync.Mutex {
	key := accountID + "\x00" + eventType
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// planFor resolves the account's subscribed plan, falling back to the
// catalog default when no subscription exists or the subscribed plan has
// been removed from the catalog.
func (s *Service) planFor(ctx context.Context, accountID string) (model.PlanDefinition, error) {
	name, err := s.store.Subscription(ctx, accountID)
	if err != nil {
		return model.PlanDefinition{}, err
	}
	if name != "" {
		if def, ok := s.catalog.Get(name); ok {
			return def, nil
		}
		zap.L().Warn("subscribed plan missing from catalog, using default",
			zap.String("account_id", NormalizeAccount(accountID)),
			zap.String("plan", name))
	}
	return s.catalog.Default(), nil
}

// quotaFor computes the current quota state for one event type under the
// given plan. An event type the plan does not limit is unmetered.
func (s *Service) quotaFor(ctx context.Context, def model.PlanDefinition, accountID, eventType string) (*model.PlanQuota, error) {
	lim, ok := def.Limits[eventType]
	if !ok {
		return nil, nil
	}
	since := s.now().AddDate(0, 0, -lim.WindowDays)
	used, err := s.store.CountEvents(ctx, eventType, accountID, since)
	if err != nil {
		return nil, err
	}

	q := &model.PlanQuota{
		EventType:  eventType,
		Limit:      lim.Limit,
		Used:       used,
		Remaining:  lim.Limit - used,
		WindowDays: lim.WindowDays,
		Status:     model.QuotaOK,
	}
	if q.Remaining < 0 {
		q.Remaining = 0
	}
	switch {
	case used >= lim.Limit:
		q.Status = model.QuotaLimit
	case float64(used) >= warningThreshold*float64(lim.Limit):
		q.Status = model.QuotaWarning
	}
	return q, nil
}

// WithQuota runs action under quota enforcement for the tenant and event
// type. The check, the action, and the event record are serialized per
// (account, event type): two concurrent calls at the quota boundary cannot
// both pass. The event is recorded only after action succeeds; a failed
// action consumes no quota.
func (s *Service) WithQuota(ctx context.Context, tenant model.Tenant, eventType string, metadata map[string]string, action func(ctx context.Context) error) error {
	if !s.enabled {
		return action(ctx)
	}

	accountID := NormalizeAccount(tenant.AccountID)
	lock := s.lockFor(accountID, eventType)
	lock.Lock()
	defer lock.Unlock()

	def, err := s.planFor(ctx, accountID)
	if err != nil {
		return err
	}
	quota, err := s.quotaFor(ctx, def, accountID, eventType)
	if err != nil {
		return err
	}

	if quota != nil && quota.Status == model.QuotaLimit {
		s.raiseAlert(ctx, accountID, def, quota)
		return &QuotaExceededError{
			EventType:  eventType,
			Plan:       def.Name,
			Limit:      quota.Limit,
			Used:       quota.Used,
			WindowDays: quota.WindowDays,
		}
	}

	if err := action(ctx); err != nil {
		return err
	}

	if err := s.store.RecordEvent(ctx, model.UsageEvent{
		EventType: eventType,
		AccountID: accountID,
		UserID:    tenant.UserID,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}); err != nil {
		// The action already ran; surface the accounting failure loudly.
		zap.L().Error("record usage event after successful action",
			zap.String("event_type", eventType),
			zap.String("account_id", accountID),
			zap.Error(err))
		return err
	}

	// Re-derive status after recording so a crossing into warning or limit
	// territory raises an alert on the action that caused it.
	after, err := s.quotaFor(ctx, def, accountID, eventType)
	if err == nil && after != nil {
		if after.Status == model.QuotaOK {
			if err := s.store.ClearAlertState(ctx, accountID, eventType); err != nil {
				zap.L().Warn("clear alert state", zap.Error(err))
			}
		} else {
			s.raiseAlert(ctx, accountID, def, after)
		}
	}
	return nil
}

// raiseAlert persists and dispatches a quota alert, deduplicating repeats
// of the same status inside the minimum interval.
func (s *Service) raiseAlert(ctx context.Context, accountID string, def model.PlanDefinition, quota *model.PlanQuota) {
	prevStatus, lastSent, err := s.store.AlertState(ctx, accountID, quota.EventType)
	if err != nil {
		zap.L().Warn("read alert state", zap.Error(err))
		return
	}
	now := s.now()
	if prevStatus == quota.Status && lastSent != nil && now.Sub(*lastSent) < s.minInterval {
		return
	}

	alert := model.AlertRecord{
		EventType: quota.EventType,
		Status:    quota.Status,
		Message:   alertMessage(def, quota),
		AccountID: accountID,
		CreatedAt: now,
	}
	meta := fmt.Sprintf(`{"plan":%q,"used":%d,"limit":%d}`, def.Name, quota.Used, quota.Limit)
	if err := s.store.InsertAlert(ctx, alert, meta); err != nil {
		zap.L().Warn("persist quota alert", zap.Error(err))
	}
	if err := s.store.SetAlertState(ctx, accountID, quota.EventType, quota.Status, now); err != nil {
		zap.L().Warn("update alert state", zap.Error(err))
	}
	if s.alerter != nil {
		s.alerter.Notify(ctx, alert)
	}
}

func alertMessage(def model.PlanDefinition, quota *model.PlanQuota) string {
	if quota.Status == model.QuotaLimit {
		return fmt.Sprintf("%s quota reached: %d/%d used in the last %d days on the %s plan",
			quota.EventType, quota.Used, quota.Limit, quota.WindowDays, def.Name)
	}
	return fmt.Sprintf("%s quota nearly exhausted: %d/%d used in the last %d days on the %s plan",
		quota.EventType, quota.Used, quota.Limit, quota.WindowDays, def.Name)
}

// Snapshot returns the tenant's active plan with derived quota state for
// every limited event type.
func (s *Service) Snapshot(ctx context.Context, tenant model.Tenant) (*model.PlanSnapshot, error) {
	accountID := NormalizeAccount(tenant.AccountID)
	def, err := s.planFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snap := &model.PlanSnapshot{
		PlanName:        def.Name,
		PlanDisplayName: def.DisplayName,
		Quotas:          []model.PlanQuota{},
		Alerts:          []model.PlanAlert{},
	}

	eventTypes := make([]string, 0, len(def.Limits))
	for et := range def.Limits {
		eventTypes = append(eventTypes, et)
	}
	sort.Strings(eventTypes)

	for _, et := range eventTypes {
		quota, err := s.quotaFor(ctx, def, accountID, et)
		if err != nil {
			return nil, err
		}
		if quota == nil {
			continue
		}
		snap.Quotas = append(snap.Quotas, *quota)
		if quota.Status != model.QuotaOK {
			snap.Alerts = append(snap.Alerts, model.PlanAlert{
				EventType: et,
				Status:    quota.Status,
				Message:   alertMessage(def, quota),
			})
		}
	}
	return snap, nil
}

// clampWindow bounds a caller-supplied trailing window to 1..365 days,
// defaulting to 30.
func clampWindow(windowDays int) int {
	if windowDays <= 0 {
		return 30
	}
	if windowDays > 365 {
		return 365
	}
	return windowDays
}

// Summary aggregates the tenant's usage per event type over a trailing
// window. eventType optionally narrows to one type.
func (s *Service) Summary(ctx context.Context, tenant model.Tenant, windowDays int, eventType string) ([]model.UsageSummary, error) {
	windowDays = clampWindow(windowDays)
	since := s.now().AddDate(0, 0, -windowDays)
	summaries, err := s.store.Summarize(ctx, tenant.AccountID, since, eventType)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []model.UsageSummary{}
	}
	return summaries, nil
}

// History returns per-day counts for the tenant over a trailing window.
func (s *Service) History(ctx context.Context, tenant model.Tenant, windowDays int) ([]model.UsageHistoryEntry, error) {
	windowDays = clampWindow(windowDays)
	since := s.now().AddDate(0, 0, -windowDays)
	entries, err := s.store.History(ctx, tenant.AccountID, since)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.UsageHistoryEntry{}
	}
	return entries, nil
}

// RecentAlerts returns the tenant's persisted alerts, newest first.
func (s *Service) RecentAlerts(ctx context.Context, tenant model.Tenant, limit int) ([]model.AlertRecord, error) {
	alerts, err := s.store.RecentAlerts(ctx, tenant.AccountID, limit)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []model.AlertRecord{}
	}
	return alerts, nil
}

// Plans lists every subscribable plan.
func (s *Service) Plans() []model.PlanDefinition {
	return s.catalog.List()
}

// SelectPlan subscribes the tenant to the named plan.
func (s *Service) SelectPlan(ctx context.Context, tenant model.Tenant, planName string) error {
	if _, ok := s.catalog.Get(planName); !ok {
		return eris.Errorf("usage: unknown plan %q", planName)
	}
	return s.store.SetSubscription(ctx, tenant.AccountID, planName)
}

// Enabled reports whether metering is active.
func (s *Service) Enabled() bool {
	return s.enabled
}
