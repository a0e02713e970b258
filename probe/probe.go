// Package probe issues single HTTP requests against link targets and maps
// each attempt to a classified Outcome. It holds no retry policy: callers
// decide what to do with a transient failure.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lukemcguire/zombiecheck/result"
)

// Kind classifies a single probe attempt.
type Kind int

const (
	// KindSuccess is a response with status in [200,400).
	KindSuccess Kind = iota
	// KindHTTPError is any other response status.
	KindHTTPError
	// KindNetworkError is a connection-level failure.
	KindNetworkError
	// KindTimeout means no response arrived before the probe timeout.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http error"
	case KindNetworkError:
		return "network error"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrRedirectLoop is reported when a redirect chain revisits a URL.
var ErrRedirectLoop = errors.New("redirect loop detected")

// Outcome is the result of one probe attempt.
type Outcome struct {
	Kind       Kind
	Method     string
	StatusCode int           // HTTP status for KindSuccess and KindHTTPError
	Err        error         // Transport error for KindNetworkError and KindTimeout
	Elapsed    time.Duration // Time from request start to outcome
}

// Transient reports whether the outcome is a connectivity failure that a
// caller may retry.
func (o Outcome) Transient() bool {
	return o.Kind == KindNetworkError || o.Kind == KindTimeout
}

// Category classifies the outcome for reporting.
func (o Outcome) Category() result.ErrorCategory {
	if o.Kind == KindTimeout {
		return result.CategoryTimeout
	}
	return result.ClassifyError(o.Err, o.StatusCode, errors.Is(o.Err, ErrRedirectLoop))
}

// Detail is a short human-readable description of the transport error.
func (o Outcome) Detail() string {
	if o.Err == nil {
		return "unknown error"
	}
	return o.Err.Error()
}

// Prober performs one probe of the given method against url, giving up after
// timeout. Implementations must be safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context, url, method string, timeout time.Duration) Outcome
}

// ProberFunc adapts an ordinary function to the Prober interface.
type ProberFunc func(ctx context.Context, url, method string, timeout time.Duration) Outcome

// Probe calls f(ctx, url, method, timeout).
func (f ProberFunc) Probe(ctx context.Context, url, method string, timeout time.Duration) Outcome {
	return f(ctx, url, method, timeout)
}

// Classify maps an HTTP status to KindSuccess or KindHTTPError.
func Classify(statusCode int) Kind {
	if statusCode >= 200 && statusCode < 400 {
		return KindSuccess
	}
	return KindHTTPError
}
