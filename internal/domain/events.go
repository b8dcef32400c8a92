package domain

import (
	"encoding/json"
	"time"
)

// CloudEventSpecVersion is the CloudEvents version emitted by the publishers.
const CloudEventSpecVersion = "1.0"

// CloudEvent is a CloudEvents 1.0 structured-mode event.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Time            *time.Time      `json:"time,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// CommerceEvent is an Adobe I/O Events delivery of a Commerce event.
type CommerceEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ThirdPartyEvent is the event a third-party system asks to publish.
type ThirdPartyEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PublishRequest is the body of /events/3rd-party/publish.
type PublishRequest struct {
	Event *ThirdPartyEvent `json:"event"`
}

// ConsumedEvent is the body delivered to /events/3rd-party/consume.
type ConsumedEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Commerce observer event codes handled by the service.
const (
	EventOrderPlaced = "com.adobe.commerce.observer.sales_order_place_after"
)

// OrderPlacedData is the data of a sales_order_place_after event.
type OrderPlacedData struct {
	Value OrderSnapshot `json:"value"`
}

// OrderSnapshot is the subset of the order an event handler needs.
type OrderSnapshot struct {
	EntityID    EntityID `json:"entity_id"`
	IncrementID string   `json:"increment_id,omitempty"`
	State       string   `json:"state,omitempty"`
	Payment     struct {
		Method string `json:"method"`
	} `json:"payment"`
}

// EntityID is a Commerce entity id, sent as either a JSON string or number.
type EntityID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *EntityID) UnmarshalJSON(data []byte) error {
	s, err := decodeLooseString(data)
	if err != nil {
		return err
	}
	*id = EntityID(s)
	return nil
}
