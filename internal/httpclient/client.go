package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client wraps http.Client with bounded retries on transient statuses.
// Every outbound call in this codebase goes through here so timeouts
// are always bounded.
type Client struct {
	httpClient  *http.Client
	retryConfig RetryConfig
	serviceName string
}

type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RetryableStatuses []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		RetryableStatuses: []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func NewClient(serviceName string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: DefaultRetryConfig(),
		serviceName: serviceName,
	}
}

// Do executes the request, retrying transient failures with exponential
// backoff. Retries are only attempted for idempotent GETs; writes fail
// straight back to the caller.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	maxRetries := c.retryConfig.MaxRetries
	if req.Method != http.MethodGet {
		maxRetries = 0
	}

	var lastErr error
	backoff := c.retryConfig.InitialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.DebugContext(ctx, "retrying request",
				"service", c.serviceName,
				"attempt", attempt,
				"url", req.URL.String(),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		if c.isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%s: retries exhausted: %w", c.serviceName, lastErr)
}

func (c *Client) execute(ctx context.Context, req *http.Request, result any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
		}
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) isRetryableStatus(statusCode int) bool {
	for _, s := range c.retryConfig.RetryableStatuses {
		if s == statusCode {
			return true
		}
	}
	return false
}

// HTTPError is a non-2xx response surfaced as an error.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, string(e.Body))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
