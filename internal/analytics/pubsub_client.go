package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dropaccess/internal/pubsub"
)

// PubSubClient publishes each event as a JSON message so downstream
// consumers (warehouse loaders, CRM sync) can subscribe to billing activity.
type PubSubClient struct {
	publisher pubsub.Publisher
	topic     string
	now       func() time.Time
}

type pubsubMessage struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func NewPubSubClient(publisher pubsub.Publisher, topic string) (*PubSubClient, error) {
	if publisher == nil {
		return nil, errors.New("pubsub analytics: publisher is required")
	}
	if topic == "" {
		return nil, errors.New("pubsub analytics: topic is required")
	}
	return &PubSubClient{publisher: publisher, topic: topic, now: time.Now}, nil
}

func (c *PubSubClient) Capture(ctx context.Context, distinctID string, event string, properties map[string]any) error {
	payload, err := json.Marshal(pubsubMessage{
		Event:      event,
		DistinctID: distinctID,
		Properties: properties,
		Timestamp:  c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode analytics event %s: %w", event, err)
	}
	if _, err := c.publisher.Publish(ctx, c.topic, payload, map[string]string{"event": event}); err != nil {
		return err
	}
	return nil
}

// Close closes the publisher when it supports closing.
func (c *PubSubClient) Close() error {
	if closer, ok := c.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
