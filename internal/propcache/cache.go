// Package propcache holds the most recent scored batch per geographic
// scope. It is constructed once per process and injected into request
// handlers; there is no package-level state.
package propcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/scoring"
	"github.com/sells-group/lead-radar/internal/upstream"
)

// Entry is one immutable cached batch. Replaced wholesale on refresh,
// never mutated in place, so readers can hold it without locks.
type Entry struct {
	Scope      model.Scope
	Properties []model.ScoredProperty
	FetchedAt  time.Time
}

// Result is the outcome of a GetOrRefresh call. Stale is true when a
// refresh attempt failed and the previous entry was served instead.
type Result struct {
	Entry *Entry
	Stale bool
}

// Cache coordinates per-scope fetching, scoring, and TTL-based reuse.
// Concurrent refreshes for one scope collapse into a single upstream
// fetch; refreshes for distinct scopes proceed independently.
type Cache struct {
	source       upstream.Source
	scorer       *scoring.Scorer
	ttl          time.Duration
	fetchTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group

	now func() time.Time
}

// New creates a Cache. fetchTimeout bounds each upstream fetch; a timeout
// is treated as a failed refresh (the stale entry stays servable).
func New(source upstream.Source, scorer *scoring.Scorer, ttl, fetchTimeout time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		source:       source,
		scorer:       scorer,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		entries:      make(map[string]*Entry),
		now:          time.Now,
	}
}

// GetOrRefresh returns the scored batch for the scope. A fresh entry is
// returned as-is unless forceRefresh is set; otherwise the entry is
// refreshed through a single-flight fetch. When the refresh fails and a
// previous entry exists, that entry is returned with Stale=true and the
// failure is only logged; with no previous entry the typed upstream error
// surfaces to the caller.
func (c *Cache) GetOrRefresh(ctx context.Context, scope model.Scope, forceRefresh bool) (Result, error) {
	key := scope.Key()

	if !forceRefresh {
		if e := c.lookup(key); e != nil && c.fresh(e) {
			return Result{Entry: e}, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have refreshed while this one waited on the
		// flight; reuse its entry unless a refresh was demanded.
		if !forceRefresh {
			if e := c.lookup(key); e != nil && c.fresh(e) {
				return Result{Entry: e}, nil
			}
		}
		return c.refresh(ctx, scope, key)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Peek returns the current entry for a scope without refreshing, along
// with whether it is still fresh.
func (c *Cache) Peek(scope model.Scope) (*Entry, bool) {
	e := c.lookup(scope.Key())
	if e == nil {
		return nil, false
	}
	return e, c.fresh(e)
}

func (c *Cache) refresh(ctx context.Context, scope model.Scope, key string) (Result, error) {
	fetchCtx := ctx
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	parcels, err := c.source.FetchParcels(fetchCtx, scope)
	if err != nil {
		if prev := c.lookup(key); prev != nil {
			zap.L().Warn("propcache: refresh failed, serving stale entry",
				zap.String("scope", key),
				zap.Time("fetched_at", prev.FetchedAt),
				zap.Error(err),
			)
			return Result{Entry: prev, Stale: true}, nil
		}
		return Result{}, err
	}

	entry := &Entry{
		Scope:      scope,
		Properties: c.scorer.Score(parcels),
		FetchedAt:  c.now(),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	zap.L().Info("propcache: entry refreshed",
		zap.String("scope", key),
		zap.Int("properties", len(entry.Properties)),
	)
	return Result{Entry: entry}, nil
}

func (c *Cache) lookup(key string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

func (c *Cache) fresh(e *Entry) bool {
	return c.now().Sub(e.FetchedAt) < c.ttl
}
