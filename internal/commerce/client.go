// Package commerce is a small Adobe Commerce REST client covering the out-of-process
// extensibility, eventing, order and tax class endpoints the checkout service needs.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/platform/config"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 64 << 10
	jsonContentType = "application/json"
)

// Client issues authenticated requests against the Commerce REST API.
type Client struct {
	root   *url.URL
	flavor Flavor
	http   *http.Client
	auth   Authenticator
	logger *zap.Logger
}

// Options configures NewClient. Auth overrides credential resolution when set.
type Options struct {
	BaseURL     string
	HTTPTimeout time.Duration
	Integration config.IntegrationCredentials
	IMS         config.IMSCredentials
	Auth        Authenticator
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// NewClient resolves the flavor, REST root and authentication for opts.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	flavor, err := ResolveFlavor(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	root, err := apiRoot(opts.BaseURL, flavor)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	auth := opts.Auth
	if auth == nil {
		auth, err = ResolveAuthenticator(ctx, opts.Integration, opts.IMS, httpClient)
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{root: root, flavor: flavor, http: httpClient, auth: auth, logger: logger}, nil
}

// Flavor reports the resolved Commerce flavor.
func (c *Client) Flavor() Flavor { return c.flavor }

// APIError is returned for non-2xx Commerce responses.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("commerce: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("commerce: status %d", e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// IsNotFound reports whether Commerce answered 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := c.root.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("commerce: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("commerce: build request: %w", err)
	}
	req.Header.Set("Accept", jsonContentType)
	if body != nil {
		req.Header.Set("Content-Type", jsonContentType)
	}
	if err := c.auth.Authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug(fmt.Sprintf("%q %d", method+" "+target.String(), resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw), Body: raw}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("commerce: decode %s response: %w", path, err)
	}
	return nil
}

// errorMessage extracts "message" from a Commerce error body and substitutes its %1 or %name
// placeholders from "parameters".
func errorMessage(raw []byte) string {
	var payload struct {
		Message    string          `json:"message"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		return strings.TrimSpace(string(raw))
	}
	message := payload.Message
	var list []any
	if err := json.Unmarshal(payload.Parameters, &list); err == nil {
		for i := len(list) - 1; i >= 0; i-- {
			message = strings.ReplaceAll(message, fmt.Sprintf("%%%d", i+1), fmt.Sprint(list[i]))
		}
		return message
	}
	var named map[string]any
	if err := json.Unmarshal(payload.Parameters, &named); err == nil {
		for k, v := range named {
			message = strings.ReplaceAll(message, "%"+k, fmt.Sprint(v))
		}
	}
	return message
}
