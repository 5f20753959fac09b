package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nfrund/sharedhub/internal/pubsub"
)

// Topics the hub publishes its state changes on.
const (
	TopicConnectionOpened = "hub.connection.opened"
	TopicConnectionClosed = "hub.connection.closed"
	TopicThemeChanged     = "hub.theme.changed"
	TopicChatRelayed      = "hub.chat.relayed"
)

// Topics lists every topic the hub publishes.
var Topics = []string{
	TopicConnectionOpened,
	TopicConnectionClosed,
	TopicThemeChanged,
	TopicChatRelayed,
}

// CloseReason records which path removed a connection.
type CloseReason string

const (
	ReasonExplicit     CloseReason = "explicit"
	ReasonChannelError CloseReason = "channel_error"
	ReasonShutdown     CloseReason = "shutdown"
)

type ConnectionOpened struct {
	ID    string `json:"id"`
	Theme Theme  `json:"theme"`
}

type ConnectionClosed struct {
	ID        string      `json:"id"`
	Reason    CloseReason `json:"reason"`
	Remaining int         `json:"remaining"`
}

type ThemeChanged struct {
	ID    string `json:"id"`
	Theme Theme  `json:"theme"`
}

type ChatRelayed struct {
	Sender     string `json:"sender"`
	Recipients int    `json:"recipients"`
}

// Publisher is the slice of the event bus the hub needs.
type Publisher interface {
	Publish(ctx context.Context, msg pubsub.Message) error
}

// publish sends an event without ever failing the dispatch step.
func (h *Hub) publish(topic, connID string, event any) {
	if h.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode hub event", "topic", topic, "error", err)
		return
	}
	msg := pubsub.Message{
		Topic:   topic,
		UserID:  connID,
		Payload: payload,
		Metadata: map[string]string{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := h.events.Publish(context.Background(), msg); err != nil {
		h.logger.Error("Failed to publish hub event", "topic", topic, "error", err)
	}
}
