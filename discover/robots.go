package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/temoto/robotstxt"
)

// robotsTTL is how long a host's rules are reused before refetching.
const robotsTTL = time.Hour

// hostRules is one host's parsed robots.txt. A nil group allows everything.
type hostRules struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsChecker drops links a host's robots.txt disallows for the configured
// user agent. Fetch and parse failures allow everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	hosts map[string]hostRules
}

// NewRobotsChecker creates a RobotsChecker. A nil logger discards output.
func NewRobotsChecker(client *http.Client, userAgent string, logger *zerolog.Logger) *RobotsChecker {
	if client == nil {
		client = http.DefaultClient
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "robots").Logger()
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       robotsTTL,
		log:       log,
		hosts:     map[string]hostRules{},
	}
}

// Allowed reports whether rawURL may be fetched. The error is informational;
// on error the URL is allowed.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Host == "" {
		return true, nil
	}

	rules, err := r.rulesFor(ctx, parsed)
	if rules.group == nil {
		return true, err
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return rules.group.Test(path), err
}

// Filter returns the links Allowed accepts, in order.
func (r *RobotsChecker) Filter(ctx context.Context, links []Link) []Link {
	return lo.Filter(links, func(l Link, _ int) bool {
		ok, err := r.Allowed(ctx, l.URL)
		if err != nil {
			r.log.Debug().Err(err).Str("url", l.URL).Msg("robots.txt unavailable, allowing")
		}
		if !ok {
			r.log.Info().Str("url", l.URL).Msg("disallowed by robots.txt")
		}
		return ok
	})
}

// ClearCache forgets every host's rules.
func (r *RobotsChecker) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.hosts)
}

func (r *RobotsChecker) rulesFor(ctx context.Context, target *url.URL) (hostRules, error) {
	key := target.Scheme + "://" + target.Host

	r.mu.Lock()
	cached, ok := r.hosts[key]
	r.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < r.ttl {
		return cached, nil
	}

	group, err := r.fetch(ctx, key)
	rules := hostRules{group: group, fetchedAt: time.Now()}

	r.mu.Lock()
	r.hosts[key] = rules
	r.mu.Unlock()
	return rules, err
}

func (r *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create robots.txt request for %s: %w", origin, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", origin, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Missing or failing robots.txt allows everything.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt for %s: %w", origin, err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", origin, err)
	}
	return data.FindGroup(r.userAgent), nil
}
