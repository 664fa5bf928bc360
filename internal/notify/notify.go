// Package notify delivers alert lifecycle events to configured webhook URLs.
// Deliveries are fire-and-forget in a goroutine so they never block the
// alert evaluator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// Payload is the JSON body posted to each webhook.
type Payload struct {
	Event      string               `json:"event"` // triggered | resolved | escalated
	AlertID    string               `json:"alert_id"`
	RuleID     string               `json:"rule_id"`
	Name       string               `json:"name"`
	Priority   models.AlertPriority `json:"priority"`
	Status     models.AlertStatus   `json:"status"`
	Threshold  float64              `json:"threshold"`
	Comparator models.Comparator    `json:"comparator"`
	Metric     string               `json:"metric"`
	OccurredAt string               `json:"occurred_at"`
}

// WebhookNotifier posts alert events to a static list of URLs from config.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
}

// New creates a webhook notifier. An empty URL list yields a notifier that
// silently drops everything.
func New(urls []string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Notify dispatches the event to every configured webhook. Delivery is
// asynchronous; this method returns immediately.
func (n *WebhookNotifier) Notify(_ context.Context, event string, a *models.Alert) {
	if len(n.urls) == 0 {
		return
	}
	p := Payload{
		Event:      event,
		AlertID:    a.ID,
		RuleID:     a.RuleID,
		Name:       a.Name,
		Priority:   a.Priority,
		Status:     a.Status,
		Threshold:  a.Threshold,
		Comparator: a.Comparator,
		Metric:     a.Condition.MetricName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	go n.deliver(p)
}

func (n *WebhookNotifier) deliver(p Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Warn("notify: marshal payload failed", "err", err)
		return
	}
	for _, url := range n.urls {
		if err := n.send(ctx, url, body); err != nil {
			n.logger.Warn("notify: delivery failed",
				"url", url,
				"event", p.Event,
				"alert_id", p.AlertID,
				"err", err,
			)
		}
	}
}

func (n *WebhookNotifier) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pulseboard-Notifier/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from webhook", resp.StatusCode)
	}
	return nil
}
