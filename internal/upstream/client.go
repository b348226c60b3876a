// Package upstream fetches raw parcel records from the property-data
// provider and normalizes them into typed domain records.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-radar/internal/config"
	"github.com/sells-group/lead-radar/internal/model"
)

// Source fetches a batch of raw parcel records for a geographic scope.
type Source interface {
	FetchParcels(ctx context.Context, scope model.Scope) ([]model.RawParcel, error)
}

// Client implements Source against the provider's paginated search API.
type Client struct {
	cfg     config.UpstreamConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Client from config. The HTTP client timeout bounds
// each page request; the overall fetch is bounded by the caller's context.
func NewClient(cfg config.UpstreamConfig) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 500
	}
	limit := rate.Limit(cfg.RateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout()},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// FetchParcels pages through the provider API until MaxRecords is reached
// or the provider runs out of data for the scope.
func (c *Client) FetchParcels(ctx context.Context, scope model.Scope) ([]model.RawParcel, error) {
	var collected []model.RawParcel
	offset := 0

	for len(collected) < c.cfg.MaxRecords {
		remaining := c.cfg.MaxRecords - len(collected)
		pageSize := c.cfg.PageSize
		if remaining < pageSize {
			pageSize = remaining
		}

		chunk, err := c.fetchPage(ctx, scope, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}

		collected = append(collected, chunk...)
		offset += len(chunk)

		if len(chunk) < pageSize {
			break
		}
	}

	zap.L().Debug("upstream: fetch complete",
		zap.String("scope", scope.Key()),
		zap.Int("records", len(collected)),
	)
	return collected, nil
}

func (c *Client) fetchPage(ctx context.Context, scope model.Scope, limit, offset int) ([]model.RawParcel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "upstream: build request")
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if scope.City != "" {
		q.Set("city", scope.City)
	}
	if scope.State != "" {
		q.Set("state", scope.State)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: FailureRateLimited, StatusCode: resp.StatusCode, Err: eris.New("provider rate limit")}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: FailureUnavailable, StatusCode: resp.StatusCode, Err: eris.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	var envelope struct {
		Properties []map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &Error{Kind: FailureMalformed, Err: eris.Wrap(err, "decode envelope")}
	}

	parcels := make([]model.RawParcel, 0, len(envelope.Properties))
	for _, raw := range envelope.Properties {
		parcels = append(parcels, ParseParcel(raw))
	}
	return parcels, nil
}

// classify maps transport-level errors into the typed failure taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: FailureTimeout, Err: err}
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: FailureTimeout, Err: err}
	}
	return &Error{Kind: FailureUnavailable, Err: err}
}
