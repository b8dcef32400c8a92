package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ShippingRateRequest is the shipping-methods webhook body.
type ShippingRateRequest struct {
	RateRequest *RateRequest `json:"rateRequest"`
}

// RateRequest describes the destination and package of a shipping quote.
type RateRequest struct {
	DestCountryID string   `json:"dest_country_id,omitempty"`
	DestPostcode  Postcode `json:"dest_postcode"`
}

// Postcode accepts postcodes sent either as a JSON string or number.
type Postcode string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Postcode) UnmarshalJSON(data []byte) error {
	s, err := decodeLooseString(data)
	if err != nil {
		return err
	}
	*p = Postcode(s)
	return nil
}

// decodeLooseString accepts a JSON string, number or null.
func decodeLooseString(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	return trimmed, nil
}

// Numeric returns the postcode as a number when it parses as one.
func (p Postcode) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(p)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// KeyValue is an additional_data entry on a shipping method.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ShippingMethod is one offered shipping method.
type ShippingMethod struct {
	CarrierCode    string     `json:"carrier_code"`
	Method         string     `json:"method"`
	MethodTitle    string     `json:"method_title"`
	Price          float64    `json:"price"`
	Cost           float64    `json:"cost"`
	AdditionalData []KeyValue `json:"additional_data"`
}
