package commerce

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hanko-field/commerce-checkout/internal/platform/config"
)

// ErrAuthNotConfigured is returned when neither integration nor IMS credentials are complete.
var ErrAuthNotConfigured = errors.New("Can't resolve authentication options for the given params. " +
	"Please provide either IMS options (AIO_COMMERCE_AUTH_IMS_CLIENT_ID, AIO_COMMERCE_AUTH_IMS_CLIENT_SECRETS, AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_ID, AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_EMAIL, AIO_COMMERCE_AUTH_IMS_ORG_ID, AIO_COMMERCE_AUTH_IMS_SCOPES) " +
	"or Commerce integration options (AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_KEY, AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_SECRET, AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN, AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN_SECRET).")

// Authenticator adds credentials to an outgoing Commerce request.
type Authenticator interface {
	Authorize(req *http.Request) error
}

// ResolveAuthenticator prefers integration (OAuth 1.0a) credentials over IMS credentials.
func ResolveAuthenticator(ctx context.Context, integration config.IntegrationCredentials, ims config.IMSCredentials, httpClient *http.Client) (Authenticator, error) {
	if integration.Complete() {
		return NewOAuth1Signer(integration), nil
	}
	if ims.Complete() {
		return NewIMSAuthenticator(IMSTokenSource(ctx, ims, httpClient), ims.ClientID, ims.OrgID), nil
	}
	return nil, ErrAuthNotConfigured
}

// IMSTokenSource exchanges the technical account's client credentials for IMS access tokens.
// Tokens are cached until shortly before expiry. IMS expects a comma separated scope list.
func IMSTokenSource(ctx context.Context, ims config.IMSCredentials, httpClient *http.Client) oauth2.TokenSource {
	secret := ""
	if len(ims.ClientSecrets) > 0 {
		secret = ims.ClientSecrets[0]
	}
	cfg := clientcredentials.Config{
		ClientID:     ims.ClientID,
		ClientSecret: secret,
		TokenURL:     ims.TokenURL,
		EndpointParams: url.Values{
			"scope": {strings.Join(ims.Scopes, ",")},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return cfg.TokenSource(ctx)
}

// IMSAuthenticator authorises requests with an IMS bearer token.
type IMSAuthenticator struct {
	tokens oauth2.TokenSource
	apiKey string
	orgID  string
}

// NewIMSAuthenticator wraps tokens with the API key and org headers Adobe gateways require.
func NewIMSAuthenticator(tokens oauth2.TokenSource, apiKey, orgID string) *IMSAuthenticator {
	return &IMSAuthenticator{tokens: tokens, apiKey: apiKey, orgID: orgID}
}

// Authorize implements Authenticator.
func (a *IMSAuthenticator) Authorize(req *http.Request) error {
	token, err := a.tokens.Token()
	if err != nil {
		return fmt.Errorf("commerce: ims token: %w", err)
	}
	token.SetAuthHeader(req)
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}
	if a.orgID != "" {
		req.Header.Set("x-gw-ims-org-id", a.orgID)
	}
	return nil
}

// OAuth1Signer signs requests with OAuth 1.0a HMAC-SHA256 as Commerce integrations expect.
// Only query parameters take part in the signature; JSON bodies are not signed.
type OAuth1Signer struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string
	now            func() time.Time
	nonce          func() string
}

// NewOAuth1Signer builds a signer from integration credentials.
func NewOAuth1Signer(creds config.IntegrationCredentials) *OAuth1Signer {
	return &OAuth1Signer{
		consumerKey:    creds.ConsumerKey,
		consumerSecret: creds.ConsumerSecret,
		token:          creds.AccessToken,
		tokenSecret:    creds.AccessTokenSecret,
		now:            time.Now,
		nonce:          randomNonce,
	}
}

// Authorize implements Authenticator.
func (s *OAuth1Signer) Authorize(req *http.Request) error {
	oauthParams := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA256",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.token,
		"oauth_version":          "1.0",
	}
	oauthParams["oauth_signature"] = s.signature(req.Method, req.URL, oauthParams)

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauthParams[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(parts, ", "))
	return nil
}

func (s *OAuth1Signer) signature(method string, target *url.URL, oauthParams map[string]string) string {
	type pair struct{ k, v string }
	var params []pair
	for k, values := range target.Query() {
		for _, v := range values {
			params = append(params, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		params = append(params, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].k == params[j].k {
			return params[i].v < params[j].v
		}
		return params[i].k < params[j].k
	})
	encoded := make([]string, 0, len(params))
	for _, p := range params {
		encoded = append(encoded, p.k+"="+p.v)
	}

	base := url.URL{Scheme: strings.ToLower(target.Scheme), Host: strings.ToLower(target.Host), Path: target.Path}
	baseString := strings.ToUpper(method) + "&" + percentEncode(base.String()) + "&" + percentEncode(strings.Join(encoded, "&"))

	mac := hmac.New(sha256.New, []byte(percentEncode(s.consumerSecret)+"&"+percentEncode(s.tokenSecret)))
	_, _ = mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies RFC 3986 encoding: only unreserved characters pass through.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
