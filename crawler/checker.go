package crawler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lukemcguire/zombiecheck/probe"
	"github.com/lukemcguire/zombiecheck/result"
	"github.com/lukemcguire/zombiecheck/urlutil"
)

// SkipNonHTTP is the reason recorded for targets that are never probed.
const SkipNonHTTP = "non-http"

// Item is a checkable reference. The same *Item is passed to the marker for
// the lifetime of a run.
type Item struct {
	URL        string // Target address
	SourcePage string // Where the link was found, if known
	Handle     any    // Opaque value for the marking collaborator
}

// Checker runs the per-item HEAD/GET fallback and retry state machine on top
// of a probe.Prober.
type Checker struct {
	prober  probe.Prober
	timeout time.Duration
	policy  RetryPolicy
}

// NewChecker creates a Checker.
func NewChecker(prober probe.Prober, timeout time.Duration, policy RetryPolicy) *Checker {
	return &Checker{
		prober:  prober,
		timeout: timeout,
		policy:  policy,
	}
}

// Check produces the terminal result for item.
//
// HEAD is tried first and retried on connectivity failures up to the policy's
// budget. A HEAD answer of 404, 405 or 5xx escalates to a single GET. A GET
// connectivity failure is terminal: it is not fed back through the HEAD loop.
func (c *Checker) Check(ctx context.Context, item *Item) result.LinkResult {
	res := c.check(ctx, item.URL)
	res.SourcePage = item.SourcePage
	return res
}

func (c *Checker) check(ctx context.Context, url string) result.LinkResult {
	if !urlutil.IsHTTPScheme(url) {
		return result.Skipped(url, SkipNonHTTP)
	}

	var head probe.Outcome
	attempts := 0
	for retry := 0; ; retry++ {
		attempts++
		head = c.prober.Probe(ctx, url, http.MethodHead, c.timeout)
		if !head.Transient() || retry >= c.policy.MaxRetries {
			break
		}
		if err := sleep(ctx, c.policy.Delay); err != nil {
			break
		}
	}

	var res result.LinkResult
	switch {
	case head.Kind == probe.KindSuccess:
		res = result.OK(url, head.StatusCode, http.MethodHead)

	case head.Transient():
		reason := fmt.Sprintf("HEAD %s (after %s)", describe(head), plural(attempts, "attempt"))
		res = result.Broken(url, reason, 0, head.Category())
		res.Method = http.MethodHead

	case shouldEscalate(head):
		attempts++
		res = c.escalate(ctx, url)

	default:
		res = result.Broken(url, fmt.Sprintf("HEAD error %d", head.StatusCode), head.StatusCode, head.Category())
		res.Method = http.MethodHead
	}

	res.Attempts = attempts
	return res
}

// escalate issues the single GET probe that follows an unreliable HEAD answer.
func (c *Checker) escalate(ctx context.Context, url string) result.LinkResult {
	get := c.prober.Probe(ctx, url, http.MethodGet, c.timeout)

	var res result.LinkResult
	switch {
	case get.Kind == probe.KindSuccess:
		res = result.OK(url, get.StatusCode, http.MethodGet)
	case get.Transient():
		res = result.Broken(url, fmt.Sprintf("GET %s (escalation not retried)", describe(get)), 0, get.Category())
	default:
		res = result.Broken(url, fmt.Sprintf("GET error %d", get.StatusCode), get.StatusCode, get.Category())
	}
	res.Method = http.MethodGet
	res.Escalated = true
	return res
}

// shouldEscalate reports whether a HEAD outcome is ambiguous enough to retry
// the target with GET: 404, 405 or any 5xx. Only HEAD outcomes reach it.
func shouldEscalate(out probe.Outcome) bool {
	if out.Kind != probe.KindHTTPError {
		return false
	}
	switch {
	case out.StatusCode == http.StatusNotFound, out.StatusCode == http.StatusMethodNotAllowed:
		return true
	case out.StatusCode >= 500 && out.StatusCode < 600:
		return true
	default:
		return false
	}
}

func describe(out probe.Outcome) string {
	if out.Kind == probe.KindTimeout {
		return "timeout"
	}
	return "network error: " + out.Detail()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
