package notify

import (
	"context"
	"log/slog"
)

// LogTransport writes envelopes to the structured log. Default transport
// in development so every state change is still visible without a
// gateway or broker.
type LogTransport struct{}

func NewLogTransport() *LogTransport { return &LogTransport{} }

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(ctx context.Context, env Envelope) error {
	slog.InfoContext(ctx, "event_delivered",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"channel", env.Channel,
	)
	return nil
}
