package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Out-of-process payment methods.

func (c *Client) CreateOopePaymentMethod(ctx context.Context, paymentMethod any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "oope_payment_method", nil, paymentMethod, &out)
	return out, err
}

func (c *Client) GetOopePaymentMethod(ctx context.Context, code string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_payment_method/"+code, nil, nil, &out)
	return out, err
}

func (c *Client) ListOopePaymentMethods(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_payment_method", nil, nil, &out)
	return out, err
}

// Out-of-process shipping carriers.

func (c *Client) CreateOopeShippingCarrier(ctx context.Context, carrier any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "oope_shipping_carrier", nil, carrier, &out)
	return out, err
}

func (c *Client) GetOopeShippingCarrier(ctx context.Context, code string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_shipping_carrier/"+code, nil, nil, &out)
	return out, err
}

func (c *Client) ListOopeShippingCarriers(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_shipping_carrier", nil, nil, &out)
	return out, err
}

// Out-of-process tax integrations.

func (c *Client) CreateTaxIntegration(ctx context.Context, integration any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "oope_tax_management/tax_integration", nil, integration, &out)
	return out, err
}

func (c *Client) GetTaxIntegration(ctx context.Context, code string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_tax_management/tax_integration/"+code, nil, nil, &out)
	return out, err
}

func (c *Client) ListTaxIntegrations(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "oope_tax_management/tax_integration", nil, nil, &out)
	return out, err
}

// EventProvider is an Adobe I/O event provider registered in Commerce.
type EventProvider struct {
	ProviderID             string `json:"provider_id"`
	InstanceID             string `json:"instance_id,omitempty"`
	Label                  string `json:"label,omitempty"`
	Description            string `json:"description,omitempty"`
	WorkspaceConfiguration string `json:"workspace_configuration,omitempty"`
}

// EventSubscription subscribes Commerce to emit an event to a provider.
type EventSubscription struct {
	Name        string           `json:"name" yaml:"name"`
	ParentName  string           `json:"parent,omitempty" yaml:"parent,omitempty"`
	Fields      []map[string]any `json:"fields" yaml:"fields"`
	Rules       []map[string]any `json:"rules,omitempty" yaml:"rules,omitempty"`
	Destination string           `json:"destination,omitempty" yaml:"destination,omitempty"`
	ProviderID  string           `json:"provider_id,omitempty" yaml:"provider_id,omitempty"`
}

// ConfigureEventing enables Commerce eventing for the I/O workspace.
func (c *Client) ConfigureEventing(ctx context.Context, merchantID, environmentID string, workspace json.RawMessage) error {
	body := map[string]any{
		"config": map[string]any{
			"enabled":                 true,
			"merchant_id":             merchantID,
			"environment_id":          environmentID,
			"workspace_configuration": string(workspace),
		},
	}
	return c.do(ctx, http.MethodPut, "eventing/updateConfiguration", nil, body, nil)
}

// GetEventProviders lists providers known to Commerce.
func (c *Client) GetEventProviders(ctx context.Context) ([]EventProvider, error) {
	var out []EventProvider
	if err := c.do(ctx, http.MethodGet, "eventing/getEventProviders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddEventProvider registers provider with Commerce.
func (c *Client) AddEventProvider(ctx context.Context, provider EventProvider) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "eventing/eventProvider", nil, map[string]any{"eventProvider": provider}, &out)
	return out, err
}

// SubscribeEvent creates an event subscription.
func (c *Client) SubscribeEvent(ctx context.Context, subscription EventSubscription) error {
	return c.do(ctx, http.MethodPost, "eventing/eventSubscribe", nil, map[string]any{"event": subscription}, nil)
}

// GetOrderByMaskedCartID searches orders by the masked quote id of the cart they were placed from.
func (c *Client) GetOrderByMaskedCartID(ctx context.Context, cartID string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("searchCriteria[filter_groups][0][filters][0][field]", "masked_quote_id")
	query.Set("searchCriteria[filter_groups][0][filters][0][value]", cartID)
	query.Set("searchCriteria[filter_groups][0][filters][0][condition_type]", "eq")
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "orders", query, nil, &out)
	return out, err
}

// InvoiceOrder invoices orderID and returns the invoice id.
func (c *Client) InvoiceOrder(ctx context.Context, orderID string, capture bool) (string, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "order/"+orderID+"/invoice", nil, map[string]any{"capture": capture}, &out); err != nil {
		return "", err
	}
	return scalarString(out), nil
}

// RefundInvoice refunds invoiceID online and returns the credit memo id.
func (c *Client) RefundInvoice(ctx context.Context, invoiceID string) (string, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "invoice/"+invoiceID+"/refund", nil, nil, &out); err != nil {
		return "", err
	}
	return scalarString(out), nil
}

// CustomAttribute is a Commerce custom attribute entry.
type CustomAttribute struct {
	AttributeCode string `json:"attribute_code"`
	Value         string `json:"value"`
}

// TaxClass is a Commerce customer or product tax class.
type TaxClass struct {
	ClassID          int               `json:"class_id,omitempty"`
	ClassName        string            `json:"class_name"`
	ClassType        string            `json:"class_type,omitempty"`
	CustomAttributes []CustomAttribute `json:"custom_attributes,omitempty"`
}

// Attribute returns the value of the named custom attribute.
func (t TaxClass) Attribute(code string) string {
	for _, attr := range t.CustomAttributes {
		if attr.AttributeCode == code {
			return attr.Value
		}
	}
	return ""
}

// SetAttribute replaces or appends the named custom attribute.
func (t *TaxClass) SetAttribute(code, value string) {
	for i := range t.CustomAttributes {
		if t.CustomAttributes[i].AttributeCode == code {
			t.CustomAttributes[i].Value = value
			return
		}
	}
	t.CustomAttributes = append(t.CustomAttributes, CustomAttribute{AttributeCode: code, Value: value})
}

// SearchTaxClasses returns one page of tax classes.
func (c *Client) SearchTaxClasses(ctx context.Context, page, pageSize int) ([]TaxClass, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	query := url.Values{}
	query.Set("searchCriteria[currentPage]", strconv.Itoa(page))
	query.Set("searchCriteria[pageSize]", strconv.Itoa(pageSize))
	var out struct {
		Items []TaxClass `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "taxClasses/search", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetTaxClass loads a single tax class.
func (c *Client) GetTaxClass(ctx context.Context, classID int) (TaxClass, error) {
	var out TaxClass
	err := c.do(ctx, http.MethodGet, "taxClasses/"+strconv.Itoa(classID), nil, nil, &out)
	return out, err
}

// SaveTaxClass updates an existing tax class and returns its id.
func (c *Client) SaveTaxClass(ctx context.Context, class TaxClass) (string, error) {
	if class.ClassID <= 0 {
		return "", fmt.Errorf("commerce: tax class id is required")
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPut, "taxClasses/"+strconv.Itoa(class.ClassID), nil, map[string]any{"taxClass": class}, &out); err != nil {
		return "", err
	}
	return scalarString(out), nil
}

// scalarString renders a JSON string or number response as a plain string.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
