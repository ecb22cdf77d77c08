package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel application events are published on.
const DefaultChannel = "jobpilot:applications"

// Event describes a change to an application.
type Event struct {
	Type          string    `json:"type"`
	UserID        string    `json:"userId"`
	ApplicationID string    `json:"applicationId"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	At            time.Time `json:"at"`
}

const (
	EventStatusChanged = "APPLICATION_STATUS_CHANGED"
	EventDeferred      = "APPLICATION_DEFERRED"
	EventSendFailed    = "APPLICATION_SEND_FAILED"
)

// Notifier delivers events. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// RedisNotifier publishes events as JSON on a Redis channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
