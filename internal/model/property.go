// Package model defines the domain types shared across the lead radar
// pipeline: raw parcel records, scored properties, lead packs, and the
// usage/plan types used for metering.
package model

import (
	"fmt"
	"strings"
	"time"
)

// OwnerOccupancy classifies the relationship between a parcel's situs
// address and its owner's mailing address.
type OwnerOccupancy string

const (
	OwnerOccupied OwnerOccupancy = "owner_occupied"
	Absentee      OwnerOccupancy = "absentee"
)

// Scope is the geographic key used to fetch and cache a batch of parcel
// data. It is independent of user-facing filters, so differing filter
// combinations on the same market share one cache entry.
type Scope struct {
	City  string `json:"city"`
	State string `json:"state"`
}

// Key returns the canonical cache key for the scope.
func (s Scope) Key() string {
	return strings.ToLower(strings.TrimSpace(s.City)) + "," + strings.ToLower(strings.TrimSpace(s.State))
}

func (s Scope) String() string {
	return fmt.Sprintf("%s, %s", s.City, s.State)
}

// OwnerContact holds the owner's mailing and contact details as reported
// by the upstream provider.
type OwnerContact struct {
	Name         string `json:"name,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// RawParcel is one upstream property record, normalized into typed fields.
// Immutable once fetched; optional numeric fields are nil when the
// provider omitted them.
type RawParcel struct {
	ID                 string         `json:"id"`
	ParcelID           string         `json:"parcel_id,omitempty"`
	Address            string         `json:"address,omitempty"`
	City               string         `json:"city,omitempty"`
	State              string         `json:"state,omitempty"`
	PostalCode         string         `json:"postal_code,omitempty"`
	Neighborhood       string         `json:"neighborhood,omitempty"`
	Latitude           *float64       `json:"latitude,omitempty"`
	Longitude          *float64       `json:"longitude,omitempty"`
	TotalAssessedValue *float64       `json:"total_assessed_value,omitempty"`
	TotalMarketValue   *float64       `json:"total_market_value,omitempty"`
	ModelValue         *float64       `json:"model_value,omitempty"`
	EquityAvailable    *float64       `json:"equity_available,omitempty"`
	TransferDate       *time.Time     `json:"transfer_date,omitempty"`
	Owner              OwnerContact   `json:"owner"`
	OwnerOccupancy     OwnerOccupancy `json:"owner_occupancy,omitempty"`
}

// MarketValue returns the best available market estimate: the provider's
// model value when present, otherwise the assessor's market value.
func (p *RawParcel) MarketValue() *float64 {
	if p.ModelValue != nil {
		return p.ModelValue
	}
	return p.TotalMarketValue
}

// ValueGap returns market value minus assessed value, floored at zero.
// Nil when either side is missing.
func (p *RawParcel) ValueGap() *float64 {
	market := p.MarketValue()
	if market == nil || p.TotalAssessedValue == nil {
		return nil
	}
	gap := *market - *p.TotalAssessedValue
	if gap < 0 {
		gap = 0
	}
	return &gap
}

// DeriveOwnerOccupancy compares the situs address against the owner's
// mailing address. Empty when either side is incomplete.
func (p *RawParcel) DeriveOwnerOccupancy() OwnerOccupancy {
	situs := []string{p.Address, p.City, p.State, p.PostalCode}
	mailing := []string{p.Owner.AddressLine1, p.Owner.City, p.Owner.State, p.Owner.PostalCode}
	match := true
	for i := range situs {
		a := strings.ToLower(strings.TrimSpace(situs[i]))
		b := strings.ToLower(strings.TrimSpace(mailing[i]))
		if a == "" || b == "" {
			return ""
		}
		if a != b {
			match = false
		}
	}
	if match {
		return OwnerOccupied
	}
	return Absentee
}

// ScoreBreakdown holds the normalized sub-scores behind a composite
// listing score. All values lie in [0,1].
type ScoreBreakdown struct {
	Equity   float64 `json:"equity"`
	ValueGap float64 `json:"value_gap"`
	Recency  float64 `json:"recency"`
}

// ScoredProperty is a raw parcel plus its per-batch score. Owned by the
// cache entry that produced it; consumers must treat it as read-only.
type ScoredProperty struct {
	RawParcel
	ListingScore   float64        `json:"listing_score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`

	// DistanceMiles is set on a copy during radius filtering; it is not
	// part of the cached entry.
	DistanceMiles *float64 `json:"distance_from_search_center_miles,omitempty"`
}

// PropertyPage is one page of a filtered, sorted property listing.
type PropertyPage struct {
	Items  []ScoredProperty `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Stale  bool             `json:"stale,omitempty"`
}

// LeadPack is a labeled, ranked group of scored properties bundled for
// outreach. Total reflects the full group size before truncation.
type LeadPack struct {
	Label         string           `json:"label"`
	Total         int              `json:"total"`
	TopProperties []ScoredProperty `json:"top_properties"`
}

// LeadPackSet is the result of a lead pack generation request.
type LeadPackSet struct {
	GeneratedAt time.Time  `json:"generated_at"`
	GroupBy     string     `json:"group_by"`
	PackSize    int        `json:"pack_size"`
	Packs       []LeadPack `json:"packs"`
}
