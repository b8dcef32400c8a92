package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
)

// CommerceProviderMetadata identifies the Commerce event provider in provider mappings.
const CommerceProviderMetadata = "dx_commerce_events"

var (
	// ErrCommerceProviderMissing is returned when the provider mapping has no Commerce provider.
	ErrCommerceProviderMissing = errors.New("No commerce provider ID found in AIO_EVENTS_PROVIDERMETADATA_TO_PROVIDER_MAPPING")
	// ErrProviderSpecMissing is returned when events.config.yaml has no Commerce provider entry.
	ErrProviderSpecMissing = errors.New("events config has no dx_commerce_events provider")
	// ErrSubscriptionFailed is returned when at least one subscription could not be created.
	ErrSubscriptionFailed = errors.New("Event subscription was not successful.")
)

// EventsConfigFile is the events.config.yaml document.
type EventsConfigFile struct {
	EventProviders []EventProviderSpec `yaml:"event_providers"`
}

// EventProviderSpec describes an I/O event provider and the Commerce events it carries.
type EventProviderSpec struct {
	Label            string             `yaml:"label"`
	ProviderMetadata string             `yaml:"provider_metadata"`
	Description      string             `yaml:"description"`
	DocsURL          string             `yaml:"docs_url"`
	InstanceID       string             `yaml:"instance_id"`
	Subscription     []SubscriptionSpec `yaml:"subscription"`
}

// SubscriptionSpec wraps one event subscription.
type SubscriptionSpec struct {
	Event commerce.EventSubscription `yaml:"event"`
}

// ConfigureEventsInput carries everything ConfigureCommerceEvents needs.
type ConfigureEventsInput struct {
	ProviderMapping map[string]string
	Workspace       json.RawMessage
	Config          EventsConfigFile
	MerchantID      string
	EnvironmentID   string
}

// SubscriptionResult reports the outcome of one subscription.
type SubscriptionResult struct {
	Name          string
	Subscribed    bool
	AlreadyExists bool
	Error         string
}

// ConfigureCommerceEvents registers the Commerce event provider when missing, enables eventing
// for the workspace and subscribes the configured events. Subscriptions that already exist are
// reported but not treated as failures.
func (p *Provisioner) ConfigureCommerceEvents(ctx context.Context, in ConfigureEventsInput) ([]SubscriptionResult, error) {
	providerID := strings.TrimSpace(in.ProviderMapping[CommerceProviderMetadata])
	if providerID == "" {
		return nil, ErrCommerceProviderMissing
	}
	var spec *EventProviderSpec
	for i := range in.Config.EventProviders {
		if in.Config.EventProviders[i].ProviderMetadata == CommerceProviderMetadata {
			spec = &in.Config.EventProviders[i]
			break
		}
	}
	if spec == nil {
		return nil, ErrProviderSpecMissing
	}
	if !json.Valid(in.Workspace) {
		return nil, errors.New("provisioning: workspace configuration is not valid JSON")
	}

	existing, err := p.client.GetEventProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch event providers due to API error: %w", err)
	}
	matched := false
	for _, provider := range existing {
		if provider.ProviderID == providerID {
			matched = true
			break
		}
	}
	switch {
	case matched:
		p.logger.Info("event provider already registered in commerce, skipping", zap.String("provider_id", providerID))
	default:
		if len(existing) > 0 {
			p.logger.Info("commerce already has a different event provider, adding an additional one")
		}
		_, err := p.client.AddEventProvider(ctx, commerce.EventProvider{
			ProviderID:             providerID,
			InstanceID:             spec.InstanceID,
			Label:                  spec.Label,
			Description:            spec.Description,
			WorkspaceConfiguration: string(in.Workspace),
		})
		if err != nil {
			return nil, fmt.Errorf("add event provider %s: %w", providerID, err)
		}
		p.logger.Info("event provider added to commerce", zap.String("provider_id", providerID), zap.String("instance_id", spec.InstanceID))
	}

	if in.MerchantID == "" {
		p.logger.Warn("COMMERCE_ADOBE_IO_EVENTS_MERCHANT_ID is not set, the value will be empty")
	}
	if in.EnvironmentID == "" {
		p.logger.Warn("COMMERCE_ADOBE_IO_EVENTS_ENVIRONMENT_ID is not set, the value will be empty")
	}
	if err := p.client.ConfigureEventing(ctx, in.MerchantID, in.EnvironmentID, in.Workspace); err != nil {
		return nil, fmt.Errorf("Failed to configure eventing in commerce: %w", err)
	}

	results := make([]SubscriptionResult, 0, len(spec.Subscription))
	failed := false
	for _, sub := range spec.Subscription {
		event := sub.Event
		event.ProviderID = providerID
		result := SubscriptionResult{Name: event.Name}
		switch err := p.client.SubscribeEvent(ctx, event); {
		case err == nil:
			result.Subscribed = true
			p.logger.Info(fmt.Sprintf("Subscribed to event %s in Commerce.", event.Name))
		case strings.Contains(err.Error(), "already exists"):
			result.AlreadyExists = true
			p.logger.Warn("An event subscription with the same identifier already exists in the commerce system. "+
				"If you intend to update this subscription, please unsubscribe the existing one first.", zap.String("event", event.Name))
		default:
			failed = true
			result.Error = err.Error()
			p.logger.Error("Failed to subscribe event in Commerce: "+failureMessage(err), zap.String("event", event.Name))
		}
		results = append(results, result)
	}
	if failed {
		return results, ErrSubscriptionFailed
	}
	return results, nil
}
