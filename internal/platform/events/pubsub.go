package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// PubSubPublisher publishes structured CloudEvents to a Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs a Pub/Sub backed publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("events: pubsub topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

var _ Publisher = (*PubSubPublisher)(nil)

// Publish implements Publisher and returns the Pub/Sub server id.
func (p *PubSubPublisher) Publish(ctx context.Context, event domain.CloudEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", ErrNotConfigured
	}
	data, err := Encode(event)
	if err != nil {
		return "", err
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "ce-id", event.ID)
	setAttr(attrs, "ce-type", event.Type)
	setAttr(attrs, "ce-source", event.Source)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("events: pubsub publish: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
