package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PaymentFilterRequest is the filter-payment webhook body.
type PaymentFilterRequest struct {
	Payload PaymentFilterPayload `json:"payload"`
}

// PaymentFilterPayload carries the cart and the (optional) logged-in customer.
type PaymentFilterPayload struct {
	Cart     PaymentFilterCart      `json:"cart"`
	Customer *PaymentFilterCustomer `json:"customer"`
}

// PaymentFilterCart lists cart items with product attributes.
type PaymentFilterCart struct {
	Items []PaymentFilterCartItem `json:"items"`
}

// PaymentFilterCartItem is a cart line as seen by the payment filter.
type PaymentFilterCartItem struct {
	SKU     string               `json:"sku,omitempty"`
	Product PaymentFilterProduct `json:"product"`
}

// PaymentFilterProduct exposes custom product attributes.
type PaymentFilterProduct struct {
	Attributes map[string]any `json:"attributes"`
}

// Attribute returns a string-valued product attribute.
func (p PaymentFilterProduct) Attribute(code string) string {
	v, ok := p.Attributes[code]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// PaymentFilterCustomer is the logged-in customer. GroupID arrives as a string.
type PaymentFilterCustomer struct {
	GroupID string `json:"group_id"`
	Email   string `json:"email,omitempty"`
}

// PaymentMethodCode is the value of a payment removal operation.
type PaymentMethodCode struct {
	Code string `json:"code"`
}

// PaymentValidationRequest is the validate-payment webhook body.
type PaymentValidationRequest struct {
	Data struct {
		Order struct {
			IncrementID string       `json:"increment_id,omitempty"`
			Payment     OrderPayment `json:"payment"`
		} `json:"order"`
	} `json:"data"`
}

// OrderPayment is the payment selected for an order.
type OrderPayment struct {
	Method                string                `json:"method"`
	AdditionalInformation AdditionalInformation `json:"additional_information"`
}

// AdditionalInformation holds payment_additional_information. Commerce sends either an object or
// a list of {key, value} pairs; both decode to the same map. Present is false when the field was
// absent or null.
type AdditionalInformation struct {
	Present bool
	Values  map[string]string
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AdditionalInformation) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*a = AdditionalInformation{}
		return nil
	}
	values := make(map[string]string)
	switch trimmed[0] {
	case '[':
		var pairs []struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(data, &pairs); err != nil {
			return err
		}
		for _, p := range pairs {
			values[p.Key] = stringify(p.Value)
		}
	case '{':
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		for k, v := range raw {
			values[k] = stringify(v)
		}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = AdditionalInformation{}
			return nil
		}
		values["value"] = s
	default:
		return fmt.Errorf("domain: unsupported additional_information %s", trimmed)
	}
	*a = AdditionalInformation{Present: true, Values: values}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a AdditionalInformation) MarshalJSON() ([]byte, error) {
	if !a.Present {
		return []byte("null"), nil
	}
	return json.Marshal(a.Values)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
