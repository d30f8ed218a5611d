package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Kind string

const (
	KindBadInput    Kind = "bad_input"
	KindBlocked     Kind = "blocked"
	KindNotFound    Kind = "not_found"
	KindMalformed   Kind = "malformed_feed"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindUnknown     Kind = "unknown"
)

// Error is the terminal failure of a fetch, carrying the classified kind
// and how many attempts were spent.
type Error struct {
	Kind     Kind
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s) (%s): %v", e.URL, e.Attempts, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the fetch error kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return KindUnknown
}

// Permanent error markers: failures that no amount of retrying will fix.
var permanentMarkers = []string{
	"not found",
	"404",
	"invalid url",
	"unsupported protocol",
	"dns resolution failure",
	"no such host",
}

// isPermanent reports whether the error should abort the retry loop
// immediately.
func isPermanent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps an underlying error to its kind for callers that need to
// translate failures into HTTP status codes.
func classify(err error) Kind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"), strings.Contains(msg, "no such host"):
		return KindNotFound
	case strings.Contains(msg, "invalid url"), strings.Contains(msg, "unsupported protocol"):
		return KindBadInput
	case strings.Contains(msg, "failed to parse feed"):
		return KindMalformed
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "http error: 5"):
		return KindUnavailable
	default:
		return KindUnknown
	}
}
