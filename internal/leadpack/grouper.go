// Package leadpack partitions a scored, filtered result set into labeled,
// ranked outreach bundles.
package leadpack

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/scoring"
)

// ErrInvalidGroupingField rejects unsupported group_by values. No partial
// grouping is ever returned.
var ErrInvalidGroupingField = eris.New("leadpack: unsupported grouping field")

// DefaultPackSize caps top_properties when the caller does not specify one.
const DefaultPackSize = 200

// labelFuncs maps each supported grouping field (and its aliases) to a
// label extractor. Records with an empty label fall into a single
// unclassified pack labeled "".
var labelFuncs = map[string]func(*model.ScoredProperty) string{
	"postal_code":     func(p *model.ScoredProperty) string { return p.PostalCode },
	"zip":             func(p *model.ScoredProperty) string { return p.PostalCode },
	"zip_code":        func(p *model.ScoredProperty) string { return p.PostalCode },
	"city":            func(p *model.ScoredProperty) string { return p.City },
	"state":           func(p *model.ScoredProperty) string { return p.State },
	"neighborhood":    func(p *model.ScoredProperty) string { return p.Neighborhood },
	"owner_occupancy": func(p *model.ScoredProperty) string { return string(p.OwnerOccupancy) },
}

// GroupFields returns the supported grouping field names, sorted.
func GroupFields() []string {
	fields := make([]string, 0, len(labelFuncs))
	for f := range labelFuncs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Group partitions props by groupBy and ranks each pack's members by
// composite score descending, keeping only the top packSize. Total
// reflects the full group size before truncation. Packs are ordered
// largest market first; equal sizes break by label.
func Group(props []model.ScoredProperty, groupBy string, packSize int) ([]model.LeadPack, error) {
	labelOf, ok := labelFuncs[strings.ToLower(strings.TrimSpace(groupBy))]
	if !ok {
		return nil, eris.Wrapf(ErrInvalidGroupingField, "%q", groupBy)
	}
	if packSize <= 0 {
		packSize = DefaultPackSize
	}

	buckets := make(map[string][]model.ScoredProperty)
	for i := range props {
		label := labelOf(&props[i])
		buckets[label] = append(buckets[label], props[i])
	}

	packs := make([]model.LeadPack, 0, len(buckets))
	for label, members := range buckets {
		scoring.SortProperties(members)
		top := members
		if len(top) > packSize {
			top = top[:packSize]
		}
		packs = append(packs, model.LeadPack{
			Label:         label,
			Total:         len(members),
			TopProperties: top,
		})
	}

	sort.Slice(packs, func(i, j int) bool {
		if packs[i].Total != packs[j].Total {
			return packs[i].Total > packs[j].Total
		}
		return packs[i].Label < packs[j].Label
	})
	return packs, nil
}

// NewSet wraps packs into a timestamped result.
func NewSet(groupBy string, packSize int, packs []model.LeadPack) *model.LeadPackSet {
	if packSize <= 0 {
		packSize = DefaultPackSize
	}
	return &model.LeadPackSet{
		GeneratedAt: time.Now().UTC(),
		GroupBy:     groupBy,
		PackSize:    packSize,
		Packs:       packs,
	}
}
