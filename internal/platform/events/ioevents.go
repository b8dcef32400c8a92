package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

const defaultIngressTimeout = 10 * time.Second

// IOEventsPublisher posts events to the Adobe I/O Events ingress.
type IOEventsPublisher struct {
	ingressURL string
	apiKey     string
	orgID      string
	tokens     oauth2.TokenSource
	client     *http.Client
}

// IOEventsConfig configures the ingress publisher.
type IOEventsConfig struct {
	IngressURL string
	APIKey     string
	OrgID      string
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
}

// NewIOEventsPublisher validates cfg and returns the publisher.
func NewIOEventsPublisher(cfg IOEventsConfig) (*IOEventsPublisher, error) {
	ingress := strings.TrimSpace(cfg.IngressURL)
	if ingress == "" {
		return nil, errors.New("events: ingress url is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("events: token source is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultIngressTimeout}
	}
	return &IOEventsPublisher{
		ingressURL: strings.TrimRight(ingress, "/") + "/",
		apiKey:     strings.TrimSpace(cfg.APIKey),
		orgID:      strings.TrimSpace(cfg.OrgID),
		tokens:     cfg.Tokens,
		client:     client,
	}, nil
}

var _ Publisher = (*IOEventsPublisher)(nil)

// Publish implements Publisher. The ingress answers 204 when no registration listens for the
// event type; that still counts as delivered.
func (p *IOEventsPublisher) Publish(ctx context.Context, event domain.CloudEvent) (string, error) {
	if p == nil {
		return "", ErrNotConfigured
	}
	body, err := Encode(event)
	if err != nil {
		return "", err
	}
	token, err := p.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("events: ims token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ingressURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("events: build ingress request: %w", err)
	}
	req.Header.Set("Content-Type", CloudEventsContentType)
	token.SetAuthHeader(req)
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
	if p.orgID != "" {
		req.Header.Set("x-gw-ims-org-id", p.orgID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("events: ingress request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("events: ingress returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return event.ID, nil
}
