package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/model"
)

// Alerter delivers quota alerts out of band. Delivery failures are logged,
// never propagated: alerting must not block metered actions.
type Alerter interface {
	Notify(ctx context.Context, alert model.AlertRecord)
}

// WebhookAlerter POSTs alerts as JSON to a configured webhook URL.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter returns an alerter for the given URL, or nil when the
// URL is empty.
func NewWebhookAlerter(url string) *WebhookAlerter {
	if url == "" {
		return nil
	}
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Source    string    `json:"source"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *WebhookAlerter) Notify(ctx context.Context, alert model.AlertRecord) {
	payload := webhookPayload{
		Source:    "lead-radar",
		EventType: alert.EventType,
		Status:    string(alert.Status),
		Message:   alert.Message,
		AccountID: alert.AccountID,
		CreatedAt: alert.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("marshal alert payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		zap.L().Error("build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		zap.L().Warn("deliver quota alert",
			zap.String("event_type", alert.EventType),
			zap.Error(eris.Wrap(err, "alerter: post webhook")))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		zap.L().Warn("quota alert webhook rejected",
			zap.String("event_type", alert.EventType),
			zap.Int("status", resp.StatusCode))
		return
	}
	zap.L().Debug("quota alert delivered",
		zap.String("event_type", alert.EventType),
		zap.String("status", string(alert.Status)))
}
