// Package provisioning registers the checkout extension with a Commerce instance: out-of-process
// tax integrations, payment methods and shipping carriers, Commerce eventing, and local OAuth
// credential housekeeping.
package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
)

// CommerceAPI is the subset of the Commerce client used by provisioning.
type CommerceAPI interface {
	CreateTaxIntegration(ctx context.Context, integration any) (json.RawMessage, error)
	CreateOopePaymentMethod(ctx context.Context, paymentMethod any) (json.RawMessage, error)
	CreateOopeShippingCarrier(ctx context.Context, carrier any) (json.RawMessage, error)
	GetEventProviders(ctx context.Context) ([]commerce.EventProvider, error)
	AddEventProvider(ctx context.Context, provider commerce.EventProvider) (json.RawMessage, error)
	ConfigureEventing(ctx context.Context, merchantID, environmentID string, workspace json.RawMessage) error
	SubscribeEvent(ctx context.Context, subscription commerce.EventSubscription) error
}

// Provisioner runs provisioning steps against Commerce.
type Provisioner struct {
	client CommerceAPI
	logger *zap.Logger
}

// New builds a Provisioner.
func New(client CommerceAPI, logger *zap.Logger) (*Provisioner, error) {
	if client == nil {
		return nil, errors.New("provisioning: commerce client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{client: client, logger: logger}, nil
}

// TaxIntegrationsFile is the tax-integrations.yaml document.
type TaxIntegrationsFile struct {
	TaxIntegrations []map[string]any `yaml:"tax_integrations"`
}

// PaymentMethodsFile is the payment-methods.yaml document.
type PaymentMethodsFile struct {
	Methods []map[string]any `yaml:"methods"`
}

// ShippingCarriersFile is the shipping-carriers.yaml document.
type ShippingCarriersFile struct {
	ShippingCarriers []map[string]any `yaml:"shipping_carriers"`
}

// LoadYAML decodes the YAML file at path into out.
func LoadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("provisioning: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provisioning: parse %s: %w", path, err)
	}
	return nil
}

// CreateTaxIntegrations creates each integration and returns the codes Commerce accepted.
// Failures are logged and skipped.
func (p *Provisioner) CreateTaxIntegrations(ctx context.Context, file TaxIntegrationsFile) []string {
	created := make([]string, 0, len(file.TaxIntegrations))
	for _, entry := range file.TaxIntegrations {
		code := nestedCode(entry, "tax_integration")
		if _, err := p.client.CreateTaxIntegration(ctx, entry); err != nil {
			p.logger.Error(fmt.Sprintf("Failed to create tax integration %s: %s", code, failureMessage(err)))
			continue
		}
		p.logger.Info(fmt.Sprintf("Tax integration %s created", code))
		created = append(created, code)
	}
	return created
}

// CreatePaymentMethods creates each method and returns the codes Commerce accepted.
func (p *Provisioner) CreatePaymentMethods(ctx context.Context, file PaymentMethodsFile) []string {
	created := make([]string, 0, len(file.Methods))
	for _, method := range file.Methods {
		code := stringField(method, "code")
		if _, err := p.client.CreateOopePaymentMethod(ctx, map[string]any{"payment_method": method}); err != nil {
			p.logger.Error(fmt.Sprintf("Failed to create payment method %s: %s", code, failureMessage(err)))
			continue
		}
		p.logger.Info(fmt.Sprintf("Payment method %s created", code))
		created = append(created, code)
	}
	return created
}

// CreateShippingCarriers creates each carrier and returns the codes Commerce accepted.
func (p *Provisioner) CreateShippingCarriers(ctx context.Context, file ShippingCarriersFile) []string {
	created := make([]string, 0, len(file.ShippingCarriers))
	for _, entry := range file.ShippingCarriers {
		code := nestedCode(entry, "carrier")
		if _, err := p.client.CreateOopeShippingCarrier(ctx, entry); err != nil {
			p.logger.Error(fmt.Sprintf("Failed to create shipping carrier %s: %s", code, failureMessage(err)))
			continue
		}
		p.logger.Info(fmt.Sprintf("Shipping carrier %s created", code))
		created = append(created, code)
	}
	return created
}

// failureMessage prefers the Commerce message for validation errors.
func failureMessage(err error) string {
	var apiErr *commerce.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func nestedCode(entry map[string]any, key string) string {
	inner, ok := entry[key].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(inner, "code")
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
