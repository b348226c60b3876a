package propcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-radar/internal/config"
	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/scoring"
	"github.com/sells-group/lead-radar/internal/upstream"
)

// fakeSource counts fetches and can be told to fail or block.
type fakeSource struct {
	mu      sync.Mutex
	fetches atomic.Int32
	fail    error
	block   chan struct{}
	batch   []model.RawParcel
}

func (s *fakeSource) FetchParcels(ctx context.Context, scope model.Scope) ([]model.RawParcel, error) {
	s.fetches.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, &upstream.Error{Kind: upstream.FailureTimeout, Err: ctx.Err()}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return s.batch, nil
}

func (s *fakeSource) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func testBatch() []model.RawParcel {
	e1, e2 := 50000.0, 150000.0
	return []model.RawParcel{
		{ID: "p1", EquityAvailable: &e1},
		{ID: "p2", EquityAvailable: &e2},
	}
}

func newTestCache(src upstream.Source, ttl time.Duration) *Cache {
	scorer := scoring.NewScorer(config.ScoringConfig{
		EquityWeight: 0.45, ValueGapWeight: 0.35, RecencyWeight: 0.20,
		RecencyFullDays: 730, RecencyHorizonDays: 3650,
	})
	return New(src, scorer, ttl, time.Second)
}

var testScope = model.Scope{City: "Austin", State: "TX"}

func TestGetOrRefresh_HitWithinTTL(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)
	require.Len(t, first.Entry.Properties, 2)
	assert.False(t, first.Stale)

	second, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)

	// Same entry, no second upstream fetch.
	assert.Same(t, first.Entry, second.Entry)
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestGetOrRefresh_ExpiredEntryRefetches(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)

	// Age the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	res, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, int32(2), src.fetches.Load())
}

func TestGetOrRefresh_ForceRefresh(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)

	_, err = c.GetOrRefresh(ctx, testScope, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.fetches.Load())
}

func TestGetOrRefresh_StaleOnFailure(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)

	src.setFail(&upstream.Error{Kind: upstream.FailureUnavailable, Err: context.DeadlineExceeded})
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := c.GetOrRefresh(ctx, testScope, false)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Same(t, first.Entry, res.Entry)
}

func TestGetOrRefresh_FailureWithoutEntrySurfaces(t *testing.T) {
	src := &fakeSource{}
	src.setFail(&upstream.Error{Kind: upstream.FailureUnavailable, Err: assert.AnError})
	c := newTestCache(src, time.Minute)

	_, err := c.GetOrRefresh(context.Background(), testScope, false)
	require.Error(t, err)
	assert.True(t, upstream.IsUpstreamError(err))
}

func TestGetOrRefresh_SingleFlight(t *testing.T) {
	src := &fakeSource{batch: testBatch(), block: make(chan struct{})}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Entry, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.GetOrRefresh(ctx, testScope, false)
			results[i], errs[i] = res.Entry, err
		}(i)
	}

	// Give every caller time to join the in-flight fetch, then release it.
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), src.fetches.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestGetOrRefresh_IndependentScopes(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrRefresh(ctx, model.Scope{City: "Austin", State: "TX"}, false)
	require.NoError(t, err)
	_, err = c.GetOrRefresh(ctx, model.Scope{City: "Dallas", State: "TX"}, false)
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.fetches.Load())
}

func TestGetOrRefresh_EmptyBatchIsCached(t *testing.T) {
	src := &fakeSource{batch: nil}
	c := newTestCache(src, time.Minute)

	res, err := c.GetOrRefresh(context.Background(), testScope, false)
	require.NoError(t, err)
	assert.Empty(t, res.Entry.Properties)

	// Empty results are still valid cache entries.
	_, err = c.GetOrRefresh(context.Background(), testScope, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestPeek(t *testing.T) {
	src := &fakeSource{batch: testBatch()}
	c := newTestCache(src, time.Minute)

	_, fresh := c.Peek(testScope)
	assert.False(t, fresh)

	_, err := c.GetOrRefresh(context.Background(), testScope, false)
	require.NoError(t, err)

	entry, fresh := c.Peek(testScope)
	require.NotNil(t, entry)
	assert.True(t, fresh)

	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	entry, fresh = c.Peek(testScope)
	require.NotNil(t, entry)
	assert.False(t, fresh)
}
