package commerce

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Flavor distinguishes Adobe Commerce as a Cloud Service from PaaS installations.
type Flavor string

const (
	FlavorSaaS Flavor = "saas"
	FlavorPaaS Flavor = "paas"
)

// ErrBaseURLMissing is returned when no Commerce base URL is configured.
var ErrBaseURLMissing = errors.New("Can't resolve sdk api url for the given params. Please provide COMMERCE_BASE_URL.")

var saasHostPattern = regexp.MustCompile(`^([a-zA-Z0-9-]+\.)?api\.commerce\.adobe\.com$`)

// ResolveFlavor reports which Commerce flavor baseURL points at.
func ResolveFlavor(baseURL string) (Flavor, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return "", ErrBaseURLMissing
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return FlavorPaaS, nil
	}
	if saasHostPattern.MatchString(parsed.Hostname()) {
		return FlavorSaaS, nil
	}
	return FlavorPaaS, nil
}

// apiRoot returns the REST root all endpoint paths are resolved against, always ending in "/V1/".
func apiRoot(baseURL string, flavor Flavor) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("commerce: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("commerce: base url %q must be absolute", baseURL)
	}
	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/V1"):
	case flavor == FlavorSaaS:
		path += "/V1"
	case strings.HasSuffix(path, "/rest"):
		path += "/V1"
	default:
		path += "/rest/V1"
	}
	parsed.Path = path + "/"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
