// Package slack posts run summaries to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/linnemanlabs/arbiter/internal/report"
)

const httpTimeout = 10 * time.Second

// Notifier sends run summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts the run summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, r *report.Report) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(r)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *report.Report) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *report.Report) map[string]any {
	title := "Triage Run Complete"
	if r.Summary.SkippedBudget > 0 {
		title = "Triage Run Stopped: Budget Exhausted"
	} else if r.Summary.Failed > 0 {
		title = "Triage Run Complete With Failures"
	}
	text := fmt.Sprintf("%s %s", runEmoji(r), title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *report.Report) map[string]any {
	s := r.Summary
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Findings:* %d", s.Total),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confirmed:* %d", s.Confirmed),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*False positives:* %d", s.FalsePositive),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Needs review:* %d", s.NeedsMoreInfo+s.Failed+s.SkippedBudget),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Cache hits:* %d", s.CacheHits),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tokens:* %d / %d", r.Budget.TokensSpent, r.Budget.Ceiling),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", r.FinishedAt.Sub(r.StartedAt).Seconds()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Model:* %s", shortModel(r.Model)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(r *report.Report) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("%s • run %s • %s", r.Tool, r.RunID, r.FinishedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func runEmoji(r *report.Report) string {
	switch {
	case r.Summary.Confirmed > 0:
		return "\U0001f534" // red circle
	case r.Summary.Failed > 0 || r.Summary.SkippedBudget > 0:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}
