package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/plan"
)

func testCatalog(t *testing.T, limit int) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog([]model.PlanDefinition{{
		Name:        "starter",
		DisplayName: "Starter",
		Limits: map[string]model.PlanLimit{
			model.EventExport:   {Limit: limit, WindowDays: 30},
			model.EventLeadPack: {Limit: 100, WindowDays: 30},
		},
	}, {
		Name:        "growth",
		DisplayName: "Growth",
		Limits: map[string]model.PlanLimit{
			model.EventExport: {Limit: limit * 10, WindowDays: 30},
		},
	}}, "starter")
	require.NoError(t, err)
	return c
}

func newTestService(t *testing.T, limit int) (*Service, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	svc := NewService(store, testCatalog(t, limit), true, nil, 30*time.Minute)
	return svc, store
}

func TestWithQuota_AllowsUnderLimit(t *testing.T) {
	svc, store := newTestService(t, 5)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	ran := 0
	for i := 0; i < 5; i++ {
		err := svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			ran++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, ran)

	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestWithQuota_RejectsAtLimit(t *testing.T) {
	svc, store := newTestService(t, 5)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			return nil
		}))
	}

	ran := false
	err := svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)

	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.EventExport, qe.EventType)
	assert.Equal(t, "starter", qe.Plan)
	assert.Equal(t, 5, qe.Limit)
	assert.Equal(t, 5, qe.Used)
	assert.False(t, ran, "action must not run once the quota is reached")

	// The rejected attempt consumed no quota.
	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestWithQuota_FailedActionConsumesNothing(t *testing.T) {
	svc, store := newTestService(t, 5)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	actionErr := errors.New("upstream blew up")
	err := svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
		return actionErr
	})
	require.ErrorIs(t, err, actionErr)

	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWithQuota_DisabledSkipsMetering(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, testCatalog(t, 1), false, nil, time.Minute)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	// Far past the limit, still allowed.
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			return nil
		}))
	}

	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "disabled metering records nothing")
}

func TestWithQuota_UnmeteredEventTypePasses(t *testing.T) {
	svc, store := newTestService(t, 1)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, "properties.unlisted", nil, func(context.Context) error {
			return nil
		}))
	}

	// Unlimited event types are still recorded for reporting.
	count, err := store.CountEvents(ctx, "properties.unlisted", "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestWithQuota_ConcurrentBoundary(t *testing.T) {
	svc, store := newTestService(t, 5)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	rejected := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 15, rejected)

	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, count, "recorded events never exceed the limit")
}

func TestWithQuota_IndependentAccounts(t *testing.T) {
	svc, _ := newTestService(t, 1)
	ctx := context.Background()

	require.NoError(t, svc.WithQuota(ctx, model.Tenant{AccountID: "acct-1"}, model.EventExport, nil, func(context.Context) error {
		return nil
	}))
	// acct-1 is now at its limit; acct-2 is untouched.
	err := svc.WithQuota(ctx, model.Tenant{AccountID: "acct-1"}, model.EventExport, nil, func(context.Context) error {
		return nil
	})
	require.Error(t, err)

	require.NoError(t, svc.WithQuota(ctx, model.Tenant{AccountID: "acct-2"}, model.EventExport, nil, func(context.Context) error {
		return nil
	}))
}

func TestWithQuota_SubscribedPlanRaisesLimit(t *testing.T) {
	svc, store := newTestService(t, 1)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	require.NoError(t, store.SetSubscription(ctx, "acct-1", "growth"))

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			return nil
		}))
	}
}

func TestSnapshot_StatusThresholds(t *testing.T) {
	svc, _ := newTestService(t, 10)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	record := func(n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
				return nil
			}))
		}
	}

	snap, err := svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "starter", snap.PlanName)
	require.Len(t, snap.Quotas, 2)

	exportQuota := func(s *model.PlanSnapshot) model.PlanQuota {
		for _, q := range s.Quotas {
			if q.EventType == model.EventExport {
				return q
			}
		}
		t.Fatal("export quota missing")
		return model.PlanQuota{}
	}

	q := exportQuota(snap)
	assert.Equal(t, model.QuotaOK, q.Status)
	assert.Equal(t, 10, q.Remaining)

	record(8)
	snap, err = svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	q = exportQuota(snap)
	assert.Equal(t, model.QuotaOK, q.Status, "8/10 is below the warning threshold")

	record(1)
	snap, err = svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	q = exportQuota(snap)
	assert.Equal(t, model.QuotaWarning, q.Status, "9/10 crosses into warning")
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, model.QuotaWarning, snap.Alerts[0].Status)

	record(1)
	snap, err = svc.Snapshot(ctx, tenant)
	require.NoError(t, err)
	q = exportQuota(snap)
	assert.Equal(t, model.QuotaLimit, q.Status)
	assert.Equal(t, 0, q.Remaining)
}

func TestWithQuota_CrossingThresholdPersistsAlert(t *testing.T) {
	svc, store := newTestService(t, 10)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	for i := 0; i < 9; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			return nil
		}))
	}

	alerts, err := store.RecentAlerts(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, model.QuotaWarning, alerts[0].Status)
	assert.Equal(t, model.EventExport, alerts[0].EventType)
}

func TestWithQuota_AlertDeduplication(t *testing.T) {
	svc, store := newTestService(t, 10)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	// Cross into warning, then keep acting inside it. The repeated warning
	// state must not spam alerts inside the minimum interval.
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.WithQuota(ctx, tenant, model.EventExport, nil, func(context.Context) error {
			return nil
		}))
	}

	alerts, err := store.RecentAlerts(ctx, "acct-1", 50)
	require.NoError(t, err)
	// One for warning (at 9) and one for limit (at 10).
	require.Len(t, alerts, 2)
	assert.Equal(t, model.QuotaLimit, alerts[0].Status)
	assert.Equal(t, model.QuotaWarning, alerts[1].Status)
}

func TestSummaryAndHistory_WindowClamped(t *testing.T) {
	svc, store := newTestService(t, 100)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventExport,
		AccountID: "acct-1",
	}))

	for _, window := range []int{-5, 0, 30, 9999} {
		summaries, err := svc.Summary(ctx, tenant, window, "")
		require.NoError(t, err)
		require.Len(t, summaries, 1)

		history, err := svc.History(ctx, tenant, window)
		require.NoError(t, err)
		require.Len(t, history, 1)
	}
}

func TestSummary_EmptyReturnsSlice(t *testing.T) {
	svc, _ := newTestService(t, 100)
	ctx := context.Background()

	summaries, err := svc.Summary(ctx, model.Tenant{AccountID: "nobody"}, 30, "")
	require.NoError(t, err)
	assert.NotNil(t, summaries)
	assert.Empty(t, summaries)

	history, err := svc.History(ctx, model.Tenant{AccountID: "nobody"}, 30)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestSelectPlan(t *testing.T) {
	svc, store := newTestService(t, 10)
	ctx := context.Background()
	tenant := model.Tenant{AccountID: "acct-1"}

	require.NoError(t, svc.SelectPlan(ctx, tenant, "growth"))
	name, err := store.Subscription(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "growth", name)

	err = svc.SelectPlan(ctx, tenant, "enterprise")
	assert.Error(t, err)
}

func TestPlans_SortedByName(t *testing.T) {
	svc, _ := newTestService(t, 10)
	plans := svc.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, "growth", plans[0].Name)
	assert.Equal(t, "starter", plans[1].Name)
}

// failingStore wraps a real store and fails RecordEvent.
type failingStore struct {
	Store
}

func (f *failingStore) RecordEvent(context.Context, model.UsageEvent) error {
	return &StorageError{Err: errors.New("disk full")}
}

func TestWithQuota_StorageFailureSurfaces(t *testing.T) {
	base := newTestStore(t)
	svc := NewService(&failingStore{Store: base}, testCatalog(t, 10), true, nil, time.Minute)
	ctx := context.Background()

	err := svc.WithQuota(ctx, model.Tenant{AccountID: "acct-1"}, model.EventExport, nil, func(context.Context) error {
		return nil
	})
	require.Error(t, err)

	var se *StorageError
	assert.ErrorAs(t, err, &se)
}
