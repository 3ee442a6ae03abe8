package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Health endpoint paths exposed by the relay plugin.
const (
	DefaultHealthPath = "/wp-json/relay/v1/core"
	LegacyHealthPath  = "/relay/v1/core"
)

// ValidateSiteURL ensures a registered URL is absolute http(s) with a host.
func ValidateSiteURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// HealthEndpoint joins a site's base URL and the health path, stripping
// trailing slashes from the base so "https://a.test/" and "https://a.test"
// produce the same endpoint.
func HealthEndpoint(baseURL, path string) (string, error) {
	if err := ValidateSiteURL(baseURL); err != nil {
		return "", err
	}
	if path == "" {
		path = DefaultHealthPath
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + "/" + strings.TrimLeft(path, "/"), nil
}
