package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
)

const testEventsConfig = `event_providers:
  - label: Commerce events provider
    provider_metadata: dx_commerce_events
    description: Commerce events for the checkout starter kit
    instance_id: checkout-instance
    subscription:
      - event:
          name: observer.sales_order_place_after
          fields:
            - name: increment_id
            - name: payment.method
      - event:
          name: observer.sales_order_save_after
  - label: Third party
    provider_metadata: 3rd_party_custom_events
`

func loadEventsConfig(t *testing.T) EventsConfigFile {
	t.Helper()
	var file EventsConfigFile
	if err := LoadYAML(writeFile(t, "events.config.yaml", testEventsConfig), &file); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	return file
}

func TestConfigureCommerceEventsAddsProviderAndSubscribes(t *testing.T) {
	client := &fakeCommerce{}
	p := newTestProvisioner(t, client)

	results, err := p.ConfigureCommerceEvents(context.Background(), ConfigureEventsInput{
		ProviderMapping: map[string]string{CommerceProviderMetadata: "provider-123"},
		Workspace:       json.RawMessage(`{"project":{"id":"p1"}}`),
		Config:          loadEventsConfig(t),
		MerchantID:      "merchant",
		EnvironmentID:   "stage",
	})
	if err != nil {
		t.Fatalf("ConfigureCommerceEvents: %v", err)
	}

	if len(client.addedProviders) != 1 {
		t.Fatalf("expected provider to be added, got %d", len(client.addedProviders))
	}
	added := client.addedProviders[0]
	if added.ProviderID != "provider-123" || added.InstanceID != "checkout-instance" || added.WorkspaceConfiguration != `{"project":{"id":"p1"}}` {
		t.Fatalf("unexpected provider %+v", added)
	}
	if client.eventingCalls != 1 || client.eventingMerchant != "merchant" {
		t.Fatalf("expected eventing configured for merchant, got %d calls merchant=%q", client.eventingCalls, client.eventingMerchant)
	}
	if len(client.subscriptions) != 2 {
		t.Fatalf("expected two subscriptions, got %d", len(client.subscriptions))
	}
	for _, sub := range client.subscriptions {
		if sub.ProviderID != "provider-123" {
			t.Fatalf("expected provider id on subscription, got %+v", sub)
		}
	}
	if len(client.subscriptions[0].Fields) != 2 {
		t.Fatalf("expected fields decoded from yaml, got %+v", client.subscriptions[0].Fields)
	}
	if len(results) != 2 || !results[0].Subscribed {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestConfigureCommerceEventsSkipsExistingProvider(t *testing.T) {
	client := &fakeCommerce{
		providers: []commerce.EventProvider{{ProviderID: "provider-123"}},
		subscribeErrors: map[string]error{
			"observer.sales_order_save_after": errors.New("commerce: 400 subscription already exists"),
		},
	}
	results, err := newTestProvisioner(t, client).ConfigureCommerceEvents(context.Background(), ConfigureEventsInput{
		ProviderMapping: map[string]string{CommerceProviderMetadata: "provider-123"},
		Workspace:       json.RawMessage(`{}`),
		Config:          loadEventsConfig(t),
	})
	if err != nil {
		t.Fatalf("already existing subscription should not fail: %v", err)
	}
	if len(client.addedProviders) != 0 {
		t.Fatalf("expected no provider to be added")
	}
	if !results[1].AlreadyExists {
		t.Fatalf("expected second subscription flagged as existing, got %+v", results[1])
	}
}

func TestConfigureCommerceEventsSubscriptionFailure(t *testing.T) {
	client := &fakeCommerce{subscribeErrors: map[string]error{
		"observer.sales_order_place_after": errors.New("commerce: 500 internal error"),
	}}
	results, err := newTestProvisioner(t, client).ConfigureCommerceEvents(context.Background(), ConfigureEventsInput{
		ProviderMapping: map[string]string{CommerceProviderMetadata: "provider-123"},
		Workspace:       json.RawMessage(`{}`),
		Config:          loadEventsConfig(t),
	})
	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("expected ErrSubscriptionFailed, got %v", err)
	}
	if results[0].Error == "" || !results[1].Subscribed {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestConfigureCommerceEventsValidation(t *testing.T) {
	tests := []struct {
		name  string
		input ConfigureEventsInput
		want  error
	}{
		{
			name:  "missing provider mapping",
			input: ConfigureEventsInput{Workspace: json.RawMessage(`{}`)},
			want:  ErrCommerceProviderMissing,
		},
		{
			name: "missing provider spec",
			input: ConfigureEventsInput{
				ProviderMapping: map[string]string{CommerceProviderMetadata: "provider-123"},
				Workspace:       json.RawMessage(`{}`),
			},
			want: ErrProviderSpecMissing,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeCommerce{}
			_, err := newTestProvisioner(t, client).ConfigureCommerceEvents(context.Background(), tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if client.eventingCalls != 0 {
				t.Fatalf("eventing should not be configured")
			}
		})
	}
}
