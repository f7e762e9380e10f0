package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.io/infrasutra/mailbridge/internal/mq"
	"github.io/infrasutra/mailbridge/internal/sse"
	"github.io/infrasutra/mailbridge/internal/store"
)

// Notifier is told about every newly stored copy after a delivery commits.
// Implementations must not fail the delivery; they log their own errors.
type Notifier interface {
	Delivered(ctx context.Context, messages []store.StoredMessage)
}

// Notifiers calls each notifier in order.
type Notifiers []Notifier

func (n Notifiers) Delivered(ctx context.Context, messages []store.StoredMessage) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Delivered(ctx, messages)
		}
	}
}

// Event describes one stored copy to stream and queue consumers.
type Event struct {
	ID        string `json:"id"`
	OwnerID   int64  `json:"ownerId"`
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func newEvent(message store.StoredMessage) Event {
	return Event{
		ID:        message.ID,
		OwnerID:   message.OwnerID,
		MessageID: message.ProviderMessageID,
		From:      message.FromEmail,
		FromName:  message.FromName,
		Subject:   message.Subject,
		CreatedAt: message.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HubNotifier pushes a "message" event to the owner's open streams.
type HubNotifier struct {
	Hub    *sse.Hub
	Logger *slog.Logger
}

func (n HubNotifier) Delivered(_ context.Context, messages []store.StoredMessage) {
	for _, message := range messages {
		payload, err := sse.Event("message", newEvent(message))
		if err != nil {
			n.Logger.Error("encode stream event", "id", message.ID, "error", err)
			continue
		}
		n.Hub.Broadcast([]int64{message.OwnerID}, payload)
	}
}

// EventPublisher is satisfied by *mq.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// QueueNotifier publishes inbound.received for each stored copy.
type QueueNotifier struct {
	Publisher EventPublisher
	Logger    *slog.Logger
}

func (n QueueNotifier) Delivered(ctx context.Context, messages []store.StoredMessage) {
	for _, message := range messages {
		if err := n.Publisher.Publish(ctx, mq.RoutingKeyInboundReceived, newEvent(message)); err != nil {
			n.Logger.Error("publish inbound event", "id", message.ID, "error", err)
		}
	}
}
