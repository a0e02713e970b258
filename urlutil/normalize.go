// Package urlutil holds the URL helpers shared by discovery and checking.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// defaultPorts maps schemes to the port that is dropped during normalization.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize returns a canonical form of rawURL so the same target found in
// different spellings is checked once. It lowercases the scheme and host,
// drops the default port and the fragment, and strips a trailing slash
// except on the root path. The query is kept.
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("cannot normalize empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize URL %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("normalize URL %q: missing scheme or host", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if port := parsed.Port(); port != "" && port == defaultPorts[parsed.Scheme] {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":"+port)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
		parsed.RawPath = ""
	}

	return parsed.String(), nil
}
