package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// webhookPayload is the JSON body posted for each alert. Text repeats the
// alert as one line so Slack- and Discord-style incoming webhooks render it
// without a template.
type webhookPayload struct {
	Source  string         `json:"source"`
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Text    string         `json:"text"`
	Fields  map[string]any `json:"fields,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url     string
	headers http.Header
	client  *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		headers: http.Header{},
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func (w *WebhookNotifier) WithHeader(key, value string) *WebhookNotifier {
	w.headers.Set(key, value)
	return w
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Source:  "rsistats",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Text:    fmt.Sprintf("[%s] %s: %s", alert.Level, alert.Title, alert.Message),
		Fields:  alert.Fields,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	for k, vs := range w.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	log.Printf("[webhook] delivered %q", alert.Title)
	return nil
}
