package urlutil

import (
	"net"
	"net/url"
	"strings"
)

// IsHTTPScheme reports whether rawURL is an http or https URL.
func IsHTTPScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

// Hostname returns the lowercased host of rawURL without its port, or ""
// when rawURL has no host.
func Hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// IsSameDomain reports whether targetURL is on baseHost or one of its
// subdomains. A port on baseHost is ignored.
func IsSameDomain(targetURL, baseHost string) bool {
	host := Hostname(targetURL)
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(baseHost); err == nil {
		baseHost = h
	}
	baseHost = strings.ToLower(baseHost)
	return host == baseHost || strings.HasSuffix(host, "."+baseHost)
}
