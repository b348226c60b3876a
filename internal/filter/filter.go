// Package filter applies a typed, validated filter set to a cached scored
// property list. Filtering happens outside the cache so that differing
// filter combinations on the same scope share one cache entry.
package filter

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-radar/internal/model"
)

// Filters enumerates every supported property filter. Zero values mean
// "not filtered".
type Filters struct {
	City             string
	State            string
	PostalCode       string
	OwnerOccupancy   model.OwnerOccupancy
	MinEquity        *float64
	MinValueGap      *float64
	MinMarketValue   *float64
	MaxMarketValue   *float64
	MinAssessedValue *float64
	MaxAssessedValue *float64
	MinScore         *float64
	CenterLatitude   *float64
	CenterLongitude  *float64
	RadiusMiles      *float64
	Search           string
}

// Validate rejects internally inconsistent filter sets.
func (f *Filters) Validate() error {
	if f.RadiusMiles != nil {
		if *f.RadiusMiles <= 0 {
			return eris.New("filter: radius_miles must be > 0")
		}
		if f.CenterLatitude == nil || f.CenterLongitude == nil {
			return eris.New("filter: center_latitude and center_longitude are required with radius_miles")
		}
	}
	switch f.OwnerOccupancy {
	case "", model.OwnerOccupied, model.Absentee:
	default:
		return eris.Errorf("filter: unsupported owner_occupancy %q", f.OwnerOccupancy)
	}
	if f.MinMarketValue != nil && f.MaxMarketValue != nil && *f.MinMarketValue > *f.MaxMarketValue {
		return eris.New("filter: min_market_value exceeds max_market_value")
	}
	if f.MinAssessedValue != nil && f.MaxAssessedValue != nil && *f.MinAssessedValue > *f.MaxAssessedValue {
		return eris.New("filter: min_assessed_value exceeds max_assessed_value")
	}
	return nil
}

// ParseOwnerOccupancy maps the user-facing aliases onto the enum.
func ParseOwnerOccupancy(v string) (model.OwnerOccupancy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case "owner", "owner_occupied", "owner-occupied":
		return model.OwnerOccupied, nil
	case "absentee", "investor", "non_owner":
		return model.Absentee, nil
	default:
		return "", eris.Errorf("filter: unsupported owner_occupancy value %q", v)
	}
}

// Apply returns the matching subset of props, preserving input order.
// Matches inside a radius filter are copies carrying their distance from
// the search center; cached entries are never mutated.
func Apply(props []model.ScoredProperty, f Filters) []model.ScoredProperty {
	matched := make([]model.ScoredProperty, 0, len(props))
	for i := range props {
		p := props[i]
		if !matches(&p, &f) {
			continue
		}
		if f.RadiusMiles != nil {
			d := HaversineMiles(*f.CenterLatitude, *f.CenterLongitude, *p.Latitude, *p.Longitude)
			p.DistanceMiles = &d
		}
		matched = append(matched, p)
	}
	return matched
}

func matches(p *model.ScoredProperty, f *Filters) bool {
	if f.City != "" && !containsFold(p.City, f.City) {
		return false
	}
	if f.State != "" && !hasPrefixFold(p.State, f.State) {
		return false
	}
	if f.PostalCode != "" && !hasPrefixFold(p.PostalCode, f.PostalCode) {
		return false
	}
	if f.OwnerOccupancy != "" && p.OwnerOccupancy != f.OwnerOccupancy {
		return false
	}
	if f.MinEquity != nil && value(p.EquityAvailable) < *f.MinEquity {
		return false
	}
	if f.MinValueGap != nil && value(p.ValueGap()) < *f.MinValueGap {
		return false
	}
	if f.MinMarketValue != nil || f.MaxMarketValue != nil {
		market := value(p.MarketValue())
		if f.MinMarketValue != nil && market < *f.MinMarketValue {
			return false
		}
		if f.MaxMarketValue != nil && market > *f.MaxMarketValue {
			return false
		}
	}
	if f.MinAssessedValue != nil && value(p.TotalAssessedValue) < *f.MinAssessedValue {
		return false
	}
	if f.MaxAssessedValue != nil && value(p.TotalAssessedValue) > *f.MaxAssessedValue {
		return false
	}
	if f.MinScore != nil && p.ListingScore < *f.MinScore {
		return false
	}
	if f.RadiusMiles != nil {
		if p.Latitude == nil || p.Longitude == nil {
			return false
		}
		d := HaversineMiles(*f.CenterLatitude, *f.CenterLongitude, *p.Latitude, *p.Longitude)
		if d > *f.RadiusMiles {
			return false
		}
	}
	if f.Search != "" && !searchMatches(p, f.Search) {
		return false
	}
	return true
}

func searchMatches(p *model.ScoredProperty, needle string) bool {
	haystacks := []string{
		p.Address, p.City, p.State,
		p.Owner.Name, p.Owner.AddressLine1, p.Owner.Phone, p.Owner.Email,
		p.ID, p.ParcelID,
	}
	for _, hay := range haystacks {
		if containsFold(hay, needle) {
			return true
		}
	}
	return false
}

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMiles = 3958.8
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Asin(math.Sqrt(a))
}

func containsFold(value, query string) bool {
	if value == "" {
		return false
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(query))
}

func hasPrefixFold(value, query string) bool {
	if value == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(value), strings.ToLower(query))
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
