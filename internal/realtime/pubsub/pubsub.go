// Package pubsub fans realtime events out to every connection of an account.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates realtime envelopes.
type EventType string

const (
	TypeNewMessage   EventType = "new_message"
	TypeMediaReady   EventType = "media_ready"
	TypeNotification EventType = "notification"
	TypeTyping       EventType = "typing"
)

// Envelope is one event for one account's broadcast group. Origin carries the
// connection id that caused the event, if any.
type Envelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	AccountID string          `json:"account_id"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an envelope with a fresh id.
func NewEnvelope(eventType EventType, accountID, origin string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		AccountID: accountID,
		Origin:    origin,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Broker publishes envelopes to an account group and hands out subscriptions.
type Broker interface {
	Publish(ctx context.Context, accountID string, env Envelope) error
	Subscribe(accountID string) (<-chan Envelope, func(), error)
}
