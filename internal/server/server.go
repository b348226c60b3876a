// Package server exposes the HTTP API: property listings, exports, lead
// packs, cache refreshes, and usage/plan endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/export"
	"github.com/sells-group/lead-radar/internal/filter"
	"github.com/sells-group/lead-radar/internal/leadpack"
	"github.com/sells-group/lead-radar/internal/model"
	"github.com/sells-group/lead-radar/internal/radar"
	"github.com/sells-group/lead-radar/internal/upstream"
	"github.com/sells-group/lead-radar/internal/usage"
)

// Server holds the handler dependencies.
type Server struct {
	radar *radar.Service
	usage *usage.Service
}

// New builds the API server.
func New(radarSvc *radar.Service, usageSvc *usage.Service) *Server {
	return &Server{radar: radarSvc, usage: usageSvc}
}

// Router assembles the chi router with CORS and logging middleware.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Account-ID", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/properties", s.handleListProperties)
		r.Get("/properties/export", s.handleExport)
		r.Post("/properties/refresh", s.handleRefresh)
		r.Get("/properties/lead-packs", s.handleLeadPacks)

		r.Get("/usage/summary", s.handleUsageSummary)
		r.Get("/usage/history", s.handleUsageHistory)
		r.Get("/usage/alerts", s.handleUsageAlerts)
		r.Get("/usage/plan", s.handlePlanSnapshot)
		r.Post("/usage/plan", s.handleSelectPlan)
		r.Get("/usage/plans", s.handleListPlans)
	})

	return r
}

// Run starts the server and shuts it down gracefully when ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, port int, corsOrigins []string) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(corsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// tenant reads the calling tenant from request headers. Absent headers
// mean global single-tenant metering.
func tenant(r *http.Request) model.Tenant {
	return model.Tenant{
		AccountID: r.Header.Get("X-Account-ID"),
		UserID:    r.Header.Get("X-User-ID"),
	}
}

func scopeFrom(r *http.Request) model.Scope {
	q := r.URL.Query()
	return model.Scope{City: q.Get("city"), State: q.Get("state")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps service errors onto HTTP statuses: quota violations
// are 429, upstream faults 503, store faults 500, bad grouping fields 400.
func respondError(w http.ResponseWriter, err error) {
	var qe *usage.QuotaExceededError
	if errors.As(err, &qe) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":       qe.Error(),
			"event_type":  qe.EventType,
			"plan":        qe.Plan,
			"limit":       qe.Limit,
			"used":        qe.Used,
			"window_days": qe.WindowDays,
		})
		return
	}
	if errors.Is(err, leadpack.ErrInvalidGroupingField) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		zap.L().Warn("upstream failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "property data provider unavailable")
		return
	}
	var se *usage.StorageError
	if errors.As(err, &se) {
		zap.L().Error("usage store failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "usage accounting unavailable")
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseFilters builds a validated filter set from query parameters.
func parseFilters(r *http.Request) (filter.Filters, error) {
	q := r.URL.Query()
	var f filter.Filters

	f.City = q.Get("filter_city")
	f.State = q.Get("filter_state")
	f.PostalCode = q.Get("postal_code")
	f.Search = q.Get("search")

	occ, err := filter.ParseOwnerOccupancy(q.Get("owner_occupancy"))
	if err != nil {
		return f, err
	}
	f.OwnerOccupancy = occ

	for param, dst := range map[string]**float64{
		"min_equity":         &f.MinEquity,
		"min_value_gap":      &f.MinValueGap,
		"min_market_value":   &f.MinMarketValue,
		"max_market_value":   &f.MaxMarketValue,
		"min_assessed_value": &f.MinAssessedValue,
		"max_assessed_value": &f.MaxAssessedValue,
		"min_score":          &f.MinScore,
		"center_latitude":    &f.CenterLatitude,
		"center_longitude":   &f.CenterLongitude,
		"radius_miles":       &f.RadiusMiles,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %q", param, raw)
		}
		*dst = &v
	}

	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if err := radar.ValidateScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.radar.List(r.Context(), scope, filters, intParam(r, "limit", 0), intParam(r, "offset", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if err := radar.ValidateScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(scope, format)))

	if _, err := s.radar.Export(r.Context(), tenant(r), scope, filters, format, w); err != nil {
		// Nothing was written yet: quota and fetch checks run before
		// encoding starts.
		w.Header().Del("Content-Disposition")
		respondError(w, err)
		return
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if scope.City == "" && scope.State == "" {
		var body model.Scope
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			scope = body
		}
	}
	if err := radar.ValidateScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.radar.Refresh(r.Context(), tenant(r), scope)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLeadPacks(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if err := radar.ValidateScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "postal_code"
	}
	set, err := s.radar.LeadPacks(r.Context(), tenant(r), scope, filters, groupBy, intParam(r, "pack_size", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.usage.Summary(r.Context(), tenant(r),
		intParam(r, "window_days", 0), r.URL.Query().Get("event_type"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summaries})
}

func (s *Server) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.usage.History(r.Context(), tenant(r), intParam(r, "window_days", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleUsageAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.usage.RecentAlerts(r.Context(), tenant(r), intParam(r, "limit", 20))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handlePlanSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.usage.Snapshot(r.Context(), tenant(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSelectPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Plan == "" {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}
	if err := s.usage.SelectPlan(r.Context(), tenant(r), body.Plan); err != nil {
		var se *usage.StorageError
		if errors.As(err, &se) {
			respondError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.usage.Snapshot(r.Context(), tenant(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": s.usage.Plans()})
}
