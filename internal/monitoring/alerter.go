package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStaleScan      AlertType = "stale_scan"
	AlertBacklogGrowing AlertType = "backlog_growing"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a Snapshot into alerts and delivers them to the webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns one alert per stale scan plus a backlog alert when the
// unprocessed queue exceeds the configured threshold.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, s := range snap.StaleScans {
		idle := now.Sub(s.UpdatedAt).Round(time.Second)
		alerts = append(alerts, Alert{
			Type:     AlertStaleScan,
			Severity: "high",
			Message: fmt.Sprintf(
				"Scan %s is running with no progress for %s and no continuation pending",
				s.ID, idle,
			),
			Details: map[string]any{
				"scan_id":        s.ID,
				"items_analyzed": s.ItemsAnalyzed,
				"invocations":    s.Invocations,
				"updated_at":     s.UpdatedAt,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.UnprocessedCnt > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklogGrowing,
			Severity: "medium",
			Message: fmt.Sprintf("%d source items awaiting analysis (threshold %d)",
				snap.UnprocessedCnt, a.cfg.BacklogThreshold),
			Details: map[string]any{
				"unprocessed_items": snap.UnprocessedCnt,
				"threshold":         a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
