package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
)

type fakeCommerce struct {
	taxIntegrations  []any
	paymentMethods   []any
	carriers         []any
	failCodes        map[string]error
	providers        []commerce.EventProvider
	addedProviders   []commerce.EventProvider
	eventingCalls    int
	eventingMerchant string
	subscriptions    []commerce.EventSubscription
	subscribeErrors  map[string]error
}

func (f *fakeCommerce) failFor(payload any) error {
	raw, _ := json.Marshal(payload)
	for code, err := range f.failCodes {
		if strings.Contains(string(raw), `"code":"`+code+`"`) {
			return err
		}
	}
	return nil
}

func (f *fakeCommerce) CreateTaxIntegration(_ context.Context, integration any) (json.RawMessage, error) {
	if err := f.failFor(integration); err != nil {
		return nil, err
	}
	f.taxIntegrations = append(f.taxIntegrations, integration)
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommerce) CreateOopePaymentMethod(_ context.Context, method any) (json.RawMessage, error) {
	if err := f.failFor(method); err != nil {
		return nil, err
	}
	f.paymentMethods = append(f.paymentMethods, method)
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommerce) CreateOopeShippingCarrier(_ context.Context, carrier any) (json.RawMessage, error) {
	if err := f.failFor(carrier); err != nil {
		return nil, err
	}
	f.carriers = append(f.carriers, carrier)
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommerce) GetEventProviders(context.Context) ([]commerce.EventProvider, error) {
	return f.providers, nil
}

func (f *fakeCommerce) AddEventProvider(_ context.Context, provider commerce.EventProvider) (json.RawMessage, error) {
	f.addedProviders = append(f.addedProviders, provider)
	return json.RawMessage(`{}`), nil
}

func (f *fakeCommerce) ConfigureEventing(_ context.Context, merchantID, _ string, _ json.RawMessage) error {
	f.eventingCalls++
	f.eventingMerchant = merchantID
	return nil
}

func (f *fakeCommerce) SubscribeEvent(_ context.Context, subscription commerce.EventSubscription) error {
	if err := f.subscribeErrors[subscription.Name]; err != nil {
		return err
	}
	f.subscriptions = append(f.subscriptions, subscription)
	return nil
}

func newTestProvisioner(t *testing.T, client CommerceAPI) *Provisioner {
	t.Helper()
	p, err := New(client, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestCreateTaxIntegrationsFromYAML(t *testing.T) {
	path := writeFile(t, "tax-integrations.yaml", `tax_integrations:
  - tax_integration:
      code: tax-calculation
      title: Tax Calculation
      active: true
  - tax_integration:
      code: broken
      title: Broken
`)
	var file TaxIntegrationsFile
	if err := LoadYAML(path, &file); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	client := &fakeCommerce{failCodes: map[string]error{
		"broken": &commerce.APIError{StatusCode: http.StatusBadRequest, Message: "invalid code"},
	}}
	created := newTestProvisioner(t, client).CreateTaxIntegrations(context.Background(), file)

	if !reflect.DeepEqual(created, []string{"tax-calculation"}) {
		t.Fatalf("unexpected created codes %v", created)
	}
	if len(client.taxIntegrations) != 1 {
		t.Fatalf("expected one integration sent, got %d", len(client.taxIntegrations))
	}
}

func TestCreatePaymentMethodsWrapsPayload(t *testing.T) {
	path := writeFile(t, "payment-methods.yaml", `methods:
  - code: method-1
    title: Method one
    active: true
    countries: [ES, US]
`)
	var file PaymentMethodsFile
	if err := LoadYAML(path, &file); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	client := &fakeCommerce{}
	created := newTestProvisioner(t, client).CreatePaymentMethods(context.Background(), file)

	if !reflect.DeepEqual(created, []string{"method-1"}) {
		t.Fatalf("unexpected created codes %v", created)
	}
	payload, ok := client.paymentMethods[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", client.paymentMethods[0])
	}
	if _, ok := payload["payment_method"]; !ok {
		t.Fatalf("expected payment_method wrapper, got %v", payload)
	}
}

func TestCreateShippingCarriers(t *testing.T) {
	path := writeFile(t, "shipping-carriers.yaml", `shipping_carriers:
  - carrier:
      code: DPS
      title: Demo Postal Service
  - carrier:
      code: FAIL
`)
	var file ShippingCarriersFile
	if err := LoadYAML(path, &file); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	client := &fakeCommerce{failCodes: map[string]error{"FAIL": errors.New("boom")}}
	created := newTestProvisioner(t, client).CreateShippingCarriers(context.Background(), file)
	if !reflect.DeepEqual(created, []string{"DPS"}) {
		t.Fatalf("unexpected created codes %v", created)
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	var file TaxIntegrationsFile
	if err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &file); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFailureMessage(t *testing.T) {
	if got := failureMessage(&commerce.APIError{StatusCode: http.StatusBadRequest, Message: "bad input"}); got != "bad input" {
		t.Fatalf("expected commerce message, got %q", got)
	}
	if got := failureMessage(errors.New("timeout")); got != "timeout" {
		t.Fatalf("expected raw error, got %q", got)
	}
}
