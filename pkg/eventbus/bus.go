// Package eventbus is the pub/sub capability status changes are published on.
// One bus is built in main and injected; nothing reaches it through a global.
package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Topic prefixes shared with the UI layer: <entity>_<status>.
const (
	ListingTopicPrefix = "listing_"
	PaymentTopicPrefix = "payment_"
	UserTopicPrefix    = "user_"
)

// Event is what subscribers receive.
type Event struct {
	Topic      string          `json:"topic"`
	EntityID   string          `json:"entity_id"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Handler func(Event)

type Bus interface {
	// Subscribe registers h for topic. The returned func removes it.
	Subscribe(topic string, h Handler) (unsubscribe func())
	Publish(ctx context.Context, topic string, e Event) error
	Close() error
}

func PaymentTopic(status string) string {
	return PaymentTopicPrefix + status
}

func ListingTopic(status string) string {
	return ListingTopicPrefix + status
}

func UserTopic(status string) string {
	return UserTopicPrefix + status
}
