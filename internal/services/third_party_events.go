package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/state"
	"github.com/hanko-field/commerce-checkout/internal/platform/textutil"
)

const (
	defaultThirdPartyProviderKey = "3rd_party_custom_events"
	defaultConsumedEventTTL      = 5 * time.Minute
	consumedEventKeyPrefix       = "event:"
	cloudEventDataContentType    = "application/json"
)

var (
	// ErrEventInvalid matches every publish request validation failure.
	ErrEventInvalid = errors.New("invalid event")
	// ErrProviderNotConfigured is returned when the provider mapping lacks the third-party key.
	ErrProviderNotConfigured = errors.New("Can not find provider id in AIO_EVENTS_PROVIDERMETADATA_TO_PROVIDER_MAPPING")
	// ErrEventNotFound is returned when a consumed event is absent or expired.
	ErrEventNotFound = errors.New("event not found")
)

type eventValidationError string

func (e eventValidationError) Error() string { return string(e) }

func (e eventValidationError) Is(target error) bool { return target == ErrEventInvalid }

const (
	errEventMissing     eventValidationError = "Missing event property"
	errEventTypeMissing eventValidationError = "Missing event.type property"
	errEventDataMissing eventValidationError = "Missing event.data property"
)

// EventPublisher delivers CloudEvents.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.CloudEvent) (string, error)
}

// EventStore keeps consumed event data for a short time.
type EventStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ThirdPartyEventService publishes third-party events as CloudEvents and keeps the events
// delivered back to the service.
type ThirdPartyEventService interface {
	Publish(ctx context.Context, req domain.PublishRequest) (domain.CloudEvent, error)
	Consume(ctx context.Context, event domain.ConsumedEvent) (string, error)
	Lookup(ctx context.Context, id string) (json.RawMessage, error)
}

// ThirdPartyEventServiceDeps bundles the collaborators of the third-party event service.
type ThirdPartyEventServiceDeps struct {
	Publisher       EventPublisher
	Store           EventStore
	ProviderMapping map[string]string
	ProviderKey     string
	TTL             time.Duration
	NewID           func() string
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
}

type thirdPartyEventService struct {
	publisher   EventPublisher
	store       EventStore
	providers   map[string]string
	providerKey string
	ttl         time.Duration
	newID       func() string
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewThirdPartyEventService validates deps and builds the service.
func NewThirdPartyEventService(deps ThirdPartyEventServiceDeps) (ThirdPartyEventService, error) {
	if deps.Store == nil {
		return nil, errors.New("third-party events: store is required")
	}
	providerKey := strings.TrimSpace(deps.ProviderKey)
	if providerKey == "" {
		providerKey = defaultThirdPartyProviderKey
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultConsumedEventTTL
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &thirdPartyEventService{
		publisher:   deps.Publisher,
		store:       deps.Store,
		providers:   textutil.NormalizeStringMap(deps.ProviderMapping),
		providerKey: providerKey,
		ttl:         ttl,
		newID:       newID,
		clock:       clock,
		logger:      logger,
	}, nil
}

func (s *thirdPartyEventService) Publish(ctx context.Context, req domain.PublishRequest) (domain.CloudEvent, error) {
	if req.Event == nil {
		return domain.CloudEvent{}, errEventMissing
	}
	eventType := strings.TrimSpace(req.Event.Type)
	if eventType == "" {
		return domain.CloudEvent{}, errEventTypeMissing
	}
	if isFalsyJSON(req.Event.Data) {
		return domain.CloudEvent{}, errEventDataMissing
	}

	providerID := s.providers[s.providerKey]
	if providerID == "" {
		return domain.CloudEvent{}, ErrProviderNotConfigured
	}
	if s.publisher == nil {
		return domain.CloudEvent{}, errors.New("third-party events: publisher not configured")
	}

	event := domain.CloudEvent{
		SpecVersion:     domain.CloudEventSpecVersion,
		ID:              s.newID(),
		Source:          "urn:uuid:" + providerID,
		Type:            eventType,
		DataContentType: cloudEventDataContentType,
		Data:            req.Event.Data,
	}
	messageID, err := s.publisher.Publish(ctx, event)
	if err != nil {
		s.logger(ctx, "events.publish_failed", map[string]any{"eventId": event.ID, "type": eventType, "error": err.Error()})
		return domain.CloudEvent{}, fmt.Errorf("publish event %s: %w", event.ID, err)
	}

	s.logger(ctx, "events.published", map[string]any{
		"eventId":   event.ID,
		"type":      eventType,
		"messageId": messageID,
		"provider":  providerID,
	})
	return event, nil
}

func (s *thirdPartyEventService) Consume(ctx context.Context, event domain.ConsumedEvent) (string, error) {
	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(s.clock()), ulid.DefaultEntropy()).String()
	}
	data := []byte(event.Data)
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	if err := s.store.Put(ctx, consumedEventKeyPrefix+id, data, s.ttl); err != nil {
		return "", fmt.Errorf("store event %s: %w", id, err)
	}
	s.logger(ctx, "events.consumed", map[string]any{"eventId": id, "type": event.Type})
	return id, nil
}

func (s *thirdPartyEventService) Lookup(ctx context.Context, id string) (json.RawMessage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEventNotFound
	}
	data, err := s.store.Get(ctx, consumedEventKeyPrefix+id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}
	return json.RawMessage(data), nil
}

// isFalsyJSON reports whether raw is absent or one of null, false, 0 or "".
func isFalsyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "false", `""`:
		return true
	}
	var number float64
	if err := json.Unmarshal([]byte(trimmed), &number); err == nil {
		return number == 0
	}
	return false
}
