package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event types delivered to requester and provider channels.
const (
	EventNewRequest       = "new-request"
	EventNewOffer         = "new-offer"
	EventOfferAccepted    = "offer-accepted"
	EventStatusUpdate     = "request-status-update"
	EventPaymentConfirmed = "payment-confirmed"
	EventRequestCancelled = "request-cancelled"
)

// Envelope wraps every delivered event.
type Envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Channel   string         `json:"channel"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Transport delivers one envelope to one channel, at-least-once,
// best-effort. Implementations must not block past their own timeout.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Name() string
}

// Fanout multicasts typed events to requester/provider channels across
// every configured transport. Delivery failures are logged and
// swallowed; the state machine is the source of truth and notifications
// are advisory.
type Fanout struct {
	transports []Transport
}

func NewFanout(transports ...Transport) *Fanout {
	return &Fanout{transports: transports}
}

// UserChannel is the channel owned by a requester.
func UserChannel(userID string) string { return "user_" + userID }

// ProviderChannel is the channel owned by a provider.
func ProviderChannel(providerID string) string { return "provider_" + providerID }

// Emit delivers one event to each target channel on every transport.
// Never returns an error.
func (f *Fanout) Emit(ctx context.Context, channels []string, eventType string, data map[string]any) {
	now := time.Now().UTC()
	for _, channel := range channels {
		env := Envelope{
			EventID:   generateEventID(),
			EventType: eventType,
			Channel:   channel,
			Timestamp: now,
			Data:      data,
		}
		for _, tr := range f.transports {
			if err := tr.Send(ctx, env); err != nil {
				slog.WarnContext(ctx, "notification delivery failed",
					"transport", tr.Name(),
					"channel", channel,
					"event_type", eventType,
					"error", err,
				)
				continue
			}
		}
		slog.InfoContext(ctx, "event_emitted",
			"event_id", env.EventID,
			"event_type", eventType,
			"channel", channel,
		)
	}
}

func generateEventID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "evt_" + hex.EncodeToString(b[:])
}
