package model

import "time"

// Metered event types. Every quota-governed action records exactly one of
// these after it completes successfully.
const (
	EventExport       = "properties.export"
	EventLeadPack     = "properties.lead_pack"
	EventRefreshCache = "properties.refresh_cache"
)

// Tenant identifies the account (and optionally the user) a metered
// action belongs to. A zero Tenant means global single-tenant metering.
type Tenant struct {
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// UsageEvent is one immutable metered-action record. Append-only.
type UsageEvent struct {
	ID        string            `json:"id"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// QuotaStatus describes how close a quota is to its limit.
type QuotaStatus string

const (
	QuotaOK      QuotaStatus = "ok"
	QuotaWarning QuotaStatus = "warning"
	QuotaLimit   QuotaStatus = "limit"
)

// PlanLimit caps one event type over a trailing window.
type PlanLimit struct {
	Limit      int `json:"limit" yaml:"limit"`
	WindowDays int `json:"window_days" yaml:"window_days"`
}

// PlanDefinition describes one subscribable plan tier.
type PlanDefinition struct {
	Name        string               `json:"name" yaml:"name"`
	DisplayName string               `json:"display_name" yaml:"display_name"`
	Description string               `json:"description" yaml:"description"`
	Price       string               `json:"price" yaml:"price"`
	Limits      map[string]PlanLimit `json:"limits" yaml:"limits"`
}

// PlanQuota is the derived state of one event type's quota. Recomputed on
// every request, never stored.
type PlanQuota struct {
	EventType  string      `json:"event_type"`
	Limit      int         `json:"limit"`
	Used       int         `json:"used"`
	Remaining  int         `json:"remaining"`
	WindowDays int         `json:"window_days"`
	Status     QuotaStatus `json:"status"`
}

// PlanAlert is a human-readable notice attached to a non-ok quota.
type PlanAlert struct {
	EventType string      `json:"event_type"`
	Status    QuotaStatus `json:"status"`
	Message   string      `json:"message"`
}

// PlanSnapshot is the active plan plus all derived quotas and alerts.
type PlanSnapshot struct {
	PlanName        string      `json:"plan_name"`
	PlanDisplayName string      `json:"plan_display_name"`
	Quotas          []PlanQuota `json:"quotas"`
	Alerts          []PlanAlert `json:"alerts"`
}

// UsageSummary aggregates one event type over a summary window.
type UsageSummary struct {
	EventType   string     `json:"event_type"`
	Count       int        `json:"count"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// UsageHistoryEntry is a per-UTC-day count for one event type.
type UsageHistoryEntry struct {
	Date      string `json:"date"`
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// AlertRecord is a materialized quota alert, queryable newest-first.
type AlertRecord struct {
	EventType string      `json:"event_type"`
	Status    QuotaStatus `json:"status"`
	Message   string      `json:"message"`
	AccountID string      `json:"account_id"`
	CreatedAt time.Time   `json:"created_at"`
}
