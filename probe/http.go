package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "zombiecheck/1.0 (+https://github.com/lukemcguire/zombiecheck)"

// drainLimit caps how much of a GET body is read before closing, so
// keep-alive connections can be reused without downloading large files.
const drainLimit = 64 << 10

// Options configures an HTTPProber.
type Options struct {
	UserAgent    string       // User-Agent header (default DefaultUserAgent)
	RateLimit    int          // Max requests per second across all probes; 0 disables pacing
	MaxRedirects int          // Redirects followed before failing (default 10)
	Insecure     bool         // Skip TLS certificate verification
	Client       *http.Client // Overrides the built-in client; redirect policy is still installed
}

// HTTPProber is a Prober backed by net/http.
type HTTPProber struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPProber creates an HTTPProber with the given options.
func NewHTTPProber(opts Options) *HTTPProber {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	client := opts.Client
	if client == nil {
		netDial := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           netDial.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: opts.Insecure},
			},
		}
	} else {
		copied := *client
		client = &copied
	}
	client.CheckRedirect = redirectPolicy(opts.MaxRedirects)

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	return &HTTPProber{
		client:    client,
		limiter:   limiter,
		userAgent: opts.UserAgent,
	}
}

// Client returns the underlying HTTP client so discovery can share its
// transport and redirect policy.
func (p *HTTPProber) Client() *http.Client {
	return p.client
}

// redirectPolicy stops after maxRedirects hops and reports ErrRedirectLoop
// when a hop revisits a URL already in the chain.
func redirectPolicy(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		target := req.URL.String()
		for _, prev := range via {
			if prev.URL.String() == target {
				return fmt.Errorf("%w: %s", ErrRedirectLoop, target)
			}
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

// Probe issues one request and classifies the outcome. The timeout covers
// connection, headers and redirects; it does not include time spent waiting
// on the rate limiter.
func (p *HTTPProber) Probe(ctx context.Context, rawURL, method string, timeout time.Duration) (out Outcome) {
	out.Method = method

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			out.Kind = KindNetworkError
			out.Err = fmt.Errorf("rate limiter wait: %w", err)
			return out
		}
	}

	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		out.Kind = KindNetworkError
		out.Err = fmt.Errorf("create request: %w", err)
		return out
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		out.Err = err
		out.Kind = KindNetworkError
		if isTimeout(ctx, reqCtx, err) {
			out.Kind = KindTimeout
		}
		return out
	}

	if method != http.MethodHead {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	}
	_ = resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.Kind = Classify(resp.StatusCode)
	return out
}

// isTimeout reports whether err was caused by the probe's own deadline rather
// than cancellation of the parent context.
func isTimeout(parent, reqCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
