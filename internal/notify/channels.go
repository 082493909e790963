package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/loglane/backend/internal/core"
)

// payloadFor flattens a notification into the JSON body channels deliver.
func payloadFor(n Notification) map[string]interface{} {
	body := map[string]interface{}{
		"rule":      n.RuleName,
		"event_id":  n.Event.ID,
		"entry_id":  n.Event.RawLogID,
		"source":    n.Event.Source,
		"category":  string(n.Event.Category),
		"message":   n.Event.Message,
		"timestamp": n.Event.Timestamp.Format(time.RFC3339),
		"severity":  severityLabel(n.Analysis),
	}
	if n.Analysis != nil {
		body["severity_score"] = n.Analysis.SeverityScore
		body["explanation"] = n.Analysis.Explanation
		body["recommendations"] = n.Analysis.Recommendations
	}
	return body
}

// LogChannel writes notifications to the process log. Used as the default
// channel and in tests.
type LogChannel struct {
	id     string
	logger *log.Logger
}

// NewLogChannel builds a log-backed channel.
func NewLogChannel(id string) *LogChannel {
	return &LogChannel{
		id:     id,
		logger: log.New(log.Writer(), "[NOTIFY-LOG] ", log.LstdFlags),
	}
}

func (c *LogChannel) ID() string { return c.id }

func (c *LogChannel) ValidateConfig() error {
	if c.id == "" {
		return fmt.Errorf("channel id required")
	}
	return nil
}

func (c *LogChannel) Send(_ context.Context, n Notification) error {
	sev := severityOf(n.Analysis)
	c.logger.Printf("rule=%s severity=%d source=%s category=%s: %s",
		n.RuleName, sev, n.Event.Source, n.Event.Category, n.Event.Message)
	return nil
}

// SignPayload creates the HMAC-SHA256 signature receivers use to verify
// webhook bodies.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookChannel POSTs notifications to a subscriber URL, signing the body
// when a secret is configured.
type WebhookChannel struct {
	id     string
	url    string
	secret string
	client *http.Client
}

// NewWebhookChannel builds a webhook channel for one endpoint.
func NewWebhookChannel(id, url, secret string) *WebhookChannel {
	return &WebhookChannel{
		id:     id,
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) ID() string { return c.id }

func (c *WebhookChannel) ValidateConfig() error {
	if c.id == "" {
		return fmt.Errorf("channel id required")
	}
	if c.url == "" {
		return fmt.Errorf("webhook url required")
	}
	return nil
}

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	url := c.url
	if override, ok := n.Recipients[c.id]; ok && override != "" {
		url = override
	}

	payload, err := json.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Loglane-Rule", n.RuleName)
	req.Header.Set("X-Loglane-Event-ID", n.Event.ID)
	if c.secret != "" {
		req.Header.Set("X-Loglane-Signature", "sha256="+SignPayload(payload, c.secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", c.id, resp.StatusCode)
	}
	return nil
}

// severityLabel maps a score to the label carried in channel payloads.
func severityLabel(analysis *core.AIAnalysis) string {
	switch sev := severityOf(analysis); {
	case sev >= criticalSeverity:
		return "CRITICAL"
	case sev >= 7:
		return "HIGH"
	case sev >= 4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
