// Package events delivers CloudEvents to Adobe I/O Events, Pub/Sub or Kafka and reads
// Commerce events back from Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// CloudEventsContentType is the structured-mode CloudEvents media type.
const CloudEventsContentType = "application/cloudevents+json"

var (
	// ErrNotConfigured is returned by publishers built without their transport.
	ErrNotConfigured = errors.New("events: publisher not configured")
	// ErrInvalidEvent is returned for events missing an id or type.
	ErrInvalidEvent = errors.New("events: event id and type are required")
)

// Publisher delivers a CloudEvent and returns the transport's message id.
type Publisher interface {
	Publish(ctx context.Context, event domain.CloudEvent) (string, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(context.Context, domain.CloudEvent) (string, error)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event domain.CloudEvent) (string, error) {
	if f == nil {
		return "", ErrNotConfigured
	}
	return f(ctx, event)
}

// Encode validates the event and renders it in structured mode.
func Encode(event domain.CloudEvent) ([]byte, error) {
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, ErrInvalidEvent
	}
	if event.SpecVersion == "" {
		event.SpecVersion = domain.CloudEventSpecVersion
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("events: marshal cloud event: %w", err)
	}
	return data, nil
}
