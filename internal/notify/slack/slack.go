// Package slack posts triage alerts to Slack via incoming webhooks.
// Messages carry the patient id and acuity only, never names or vitals.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/acuity/internal/triage"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	department string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL, department string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		department: department,
		client:     &http.Client{Timeout: httpTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     logger,
	}
}

// Notify implements triage.Notifier.
func (n *Notifier) Notify(ctx context.Context, a *triage.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(n.buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack alert sent", "alert_id", a.ID, "patient_id", a.PatientID, "kind", a.Kind)
	return nil
}

func (n *Notifier) buildMessage(a *triage.Alert) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("%s %s: patient %s", severityEmoji(a.Severity), kindTitle(a.Kind), a.PatientID),
		"blocks": []map[string]any{
			headerBlock(a),
			fieldsBlock(a),
			messageBlock(a),
			{"type": "divider"},
			n.contextBlock(a),
		},
	}
}

func headerBlock(a *triage.Alert) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", severityEmoji(a.Severity), kindTitle(a.Kind)),
		},
	}
}

func fieldsBlock(a *triage.Alert) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Patient:* %s", a.PatientID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Acuity:* %s", a.Level)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", a.Severity)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(a *triage.Alert) map[string]any {
	text := truncate(a.Message, maxMessageLen)
	if text == "" {
		text = "_No details._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func (n *Notifier) contextBlock(a *triage.Alert) map[string]any {
	prefix := "acuity"
	if n.department != "" {
		prefix += " • " + n.department
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("%s • alert %s • %s", prefix, a.ID, a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func kindTitle(k triage.AlertKind) string {
	switch k {
	case triage.AlertCriticalPatient:
		return "Critical patient arrived"
	case triage.AlertConditionChange:
		return "Condition changed"
	case triage.AlertWaitExceeded:
		return "Wait time exceeded"
	default:
		return "Triage alert"
	}
}

func severityEmoji(s triage.AlertSeverity) string {
	switch s {
	case triage.SeverityCritical:
		return "\U0001f534" // red circle
	case triage.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case triage.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
