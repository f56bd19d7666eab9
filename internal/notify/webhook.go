package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookTransport POSTs envelopes to the real-time gateway that owns
// the delivery channels. The gateway fans messages out to connected
// clients; this side only needs fire-and-forget semantics.
type WebhookTransport struct {
	endpoint   string
	httpClient *http.Client
}

func NewWebhookTransport(endpoint string) *WebhookTransport {
	return &WebhookTransport{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (t *WebhookTransport) Name() string { return "webhook" }

func (t *WebhookTransport) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", env.EventID)
	req.Header.Set("X-Event-Type", env.EventType)
	req.Header.Set("X-Channel", env.Channel)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}
