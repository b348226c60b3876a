// Package radar orchestrates the property listing operations: cached
// scoring, filtering, pagination, exports, lead packs, and forced cache
// refreshes, with quota enforcement around the metered ones.
package radar

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-radar/internal/export"
	"github.com/sells-group/lead-radar/internal/filter"
	"github.com/sells-group/lead-radar/internal/leadpack"
	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/propcache"
	"github.com/sells-group/lead-radar/internal/usage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Service ties the cache, filters, exporters, and quota enforcement into
// the operations the HTTP API and CLI expose.
type Service struct {
	cache *propcache.Cache
	usage *usage.Service
}

// New builds the orchestration service.
func New(cache *propcache.Cache, usageSvc *usage.Service) *Service {
	return &Service{cache: cache, usage: usageSvc}
}

// ValidateScope rejects requests missing the geographic scope.
func ValidateScope(scope model.Scope) error {
	if scope.City == "" || scope.State == "" {
		return eris.New("radar: city and state are required")
	}
	return nil
}

// listing fetches the scoped batch and applies filters, preserving score
// order.
func (s *Service) listing(ctx context.Context, scope model.Scope, filters filter.Filters, forceRefresh bool) ([]model.ScoredProperty, bool, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, false, err
	}
	if err := filters.Validate(); err != nil {
		return nil, false, err
	}
	res, err := s.cache.GetOrRefresh(ctx, scope, forceRefresh)
	if err != nil {
		return nil, false, err
	}
	return filter.Apply(res.Entry.Properties, filters), res.Stale, nil
}

// List returns one page of the filtered, score-ordered property listing.
// Not metered.
func (s *Service) List(ctx context.Context, scope model.Scope, filters filter.Filters, limit, offset int) (*model.PropertyPage, error) {
	matched, stale, err := s.listing(ctx, scope, filters, false)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	page := &model.PropertyPage{
		Items:  []model.ScoredProperty{},
		Total:  len(matched),
		Limit:  limit,
		Offset: offset,
		Stale:  stale,
	}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[offset:end]
	}
	return page, nil
}

// Export writes the full filtered listing to w in the given format under
// the export quota. Returns the exported row count.
func (s *Service) Export(ctx context.Context, tenant model.Tenant, scope model.Scope, filters filter.Filters, format export.Format, w io.Writer) (int, error) {
	var rows int
	err := s.usage.WithQuota(ctx, tenant, model.EventExport, map[string]string{
		"scope":  scope.Key(),
		"format": string(format),
	}, func(ctx context.Context) error {
		matched, _, err := s.listing(ctx, scope, filters, false)
		if err != nil {
			return err
		}
		rows, err = export.Write(w, format, matched)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// LeadPacks groups the filtered listing into ranked packs under the lead
// pack quota.
func (s *Service) LeadPacks(ctx context.Context, tenant model.Tenant, scope model.Scope, filters filter.Filters, groupBy string, packSize int) (*model.LeadPackSet, error) {
	var set *model.LeadPackSet
	err := s.usage.WithQuota(ctx, tenant, model.EventLeadPack, map[string]string{
		"scope":    scope.Key(),
		"group_by": groupBy,
		"size":     strconv.Itoa(packSize),
	}, func(ctx context.Context) error {
		matched, _, err := s.listing(ctx, scope, filters, false)
		if err != nil {
			return err
		}
		packs, err := leadpack.Group(matched, groupBy, packSize)
		if err != nil {
			return err
		}
		set = leadpack.NewSet(groupBy, packSize, packs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// RefreshResult reports the outcome of a forced refresh.
type RefreshResult struct {
	Scope      model.Scope `json:"scope"`
	Properties int         `json:"properties"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Stale      bool        `json:"stale,omitempty"`
}

// Refresh forces a cache refresh for the scope under the refresh quota. A
// refresh that falls back to a stale entry still consumes quota: the
// upstream fetch was attempted.
func (s *Service) Refresh(ctx context.Context, tenant model.Tenant, scope model.Scope) (*RefreshResult, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	var result *RefreshResult
	err := s.usage.WithQuota(ctx, tenant, model.EventRefreshCache, map[string]string{
		"scope": scope.Key(),
	}, func(ctx context.Context) error {
		res, err := s.cache.GetOrRefresh(ctx, scope, true)
		if err != nil {
			return err
		}
		result = &RefreshResult{
			Scope:      scope,
			Properties: len(res.Entry.Properties),
			FetchedAt:  res.Entry.FetchedAt,
			Stale:      res.Stale,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
