package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-radar/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_RecordAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
			EventType: model.EventExport,
			AccountID: "acct-1",
			UserID:    "user-1",
			Metadata:  map[string]string{"scope": "austin,tx"},
		}))
	}
	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventLeadPack,
		AccountID: "acct-1",
	}))
	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventExport,
		AccountID: "acct-2",
	}))

	since := time.Now().Add(-time.Hour)

	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", since)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = store.CountEvents(ctx, model.EventLeadPack, "acct-1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountEvents(ctx, model.EventExport, "acct-2", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_EmptyAccountUsesGlobal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventExport,
	}))

	since := time.Now().Add(-time.Hour)
	count, err := store.CountEvents(ctx, model.EventExport, "", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountEvents(ctx, model.EventExport, GlobalAccount, since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_CountRespectsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventExport,
		AccountID: "acct-1",
		CreatedAt: old,
	}))
	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventExport,
		AccountID: "acct-1",
	}))

	since := time.Now().AddDate(0, 0, -30)
	count, err := store.CountEvents(ctx, model.EventExport, "acct-1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_Summarize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
			EventType: model.EventExport,
			AccountID: "acct-1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
		EventType: model.EventLeadPack,
		AccountID: "acct-1",
		CreatedAt: base,
	}))

	summaries, err := store.Summarize(ctx, "acct-1", base.Add(-time.Hour), "")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Ordered by event type.
	assert.Equal(t, model.EventExport, summaries[0].EventType)
	assert.Equal(t, 2, summaries[0].Count)
	require.NotNil(t, summaries[0].LastEventAt)
	assert.Equal(t, base.Add(time.Minute), summaries[0].LastEventAt.UTC())

	assert.Equal(t, model.EventLeadPack, summaries[1].EventType)
	assert.Equal(t, 1, summaries[1].Count)

	// Narrowed to one event type.
	summaries, err = store.Summarize(ctx, "acct-1", base.Add(-time.Hour), model.EventLeadPack)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, model.EventLeadPack, summaries[0].EventType)
}

func TestSQLite_HistoryGroupsByUTCDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	for _, at := range []time.Time{day1, day1.Add(10 * time.Minute), day2} {
		require.NoError(t, store.RecordEvent(ctx, model.UsageEvent{
			EventType: model.EventExport,
			AccountID: "acct-1",
			CreatedAt: at,
		}))
	}

	entries, err := store.History(ctx, "acct-1", day1.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03-01", entries[0].Date)
	assert.Equal(t, 2, entries[0].Count)
	assert.Equal(t, "2026-03-02", entries[1].Date)
	assert.Equal(t, 1, entries[1].Count)
}

func TestSQLite_Alerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertAlert(ctx, model.AlertRecord{
		EventType: model.EventExport,
		Status:    model.QuotaWarning,
		Message:   "almost out",
		AccountID: "acct-1",
		CreatedAt: base,
	}, ""))
	require.NoError(t, store.InsertAlert(ctx, model.AlertRecord{
		EventType: model.EventExport,
		Status:    model.QuotaLimit,
		Message:   "out",
		AccountID: "acct-1",
		CreatedAt: base.Add(time.Minute),
	}, `{"plan":"starter"}`))

	alerts, err := store.RecentAlerts(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// Newest first.
	assert.Equal(t, model.QuotaLimit, alerts[0].Status)
	assert.Equal(t, model.QuotaWarning, alerts[1].Status)

	alerts, err = store.RecentAlerts(ctx, "acct-1", 1)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSQLite_AlertState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	status, sentAt, err := store.AlertState(ctx, "acct-1", model.EventExport)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.Nil(t, sentAt)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetAlertState(ctx, "acct-1", model.EventExport, model.QuotaWarning, at))

	status, sentAt, err = store.AlertState(ctx, "acct-1", model.EventExport)
	require.NoError(t, err)
	assert.Equal(t, model.QuotaWarning, status)
	require.NotNil(t, sentAt)
	assert.Equal(t, at, sentAt.UTC())

	// Upsert replaces.
	require.NoError(t, store.SetAlertState(ctx, "acct-1", model.EventExport, model.QuotaLimit, at.Add(time.Hour)))
	status, _, err = store.AlertState(ctx, "acct-1", model.EventExport)
	require.NoError(t, err)
	assert.Equal(t, model.QuotaLimit, status)

	require.NoError(t, store.ClearAlertState(ctx, "acct-1", model.EventExport))
	status, sentAt, err = store.AlertState(ctx, "acct-1", model.EventExport)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.Nil(t, sentAt)
}

func TestSQLite_Subscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	name, err := store.Subscription(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, store.SetSubscription(ctx, "acct-1", "growth"))
	name, err = store.Subscription(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "growth", name)

	require.NoError(t, store.SetSubscription(ctx, "acct-1", "scale"))
	name, err = store.Subscription(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "scale", name)
}
