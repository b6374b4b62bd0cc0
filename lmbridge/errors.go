package lmbridge

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrTooManyRequests marks a transient rate limit or overload failure.
	// Backends wrap it so the bridge knows the request may be retried.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrBackoffExhausted is returned when every retry hit a transient failure.
	ErrBackoffExhausted = errors.New("backoff exhausted")
	// ErrUnsupportedBackend is returned for an unknown backend kind.
	ErrUnsupportedBackend = errors.New("unsupported backend kind")
	// ErrContinuationLimit is returned when a truncated response keeps
	// getting truncated past the configured number of continuations.
	ErrContinuationLimit = errors.New("truncated response continuation limit reached")
	// ErrEmptyResponse is returned when the provider answered with nothing.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// transientStatus matches a retryable HTTP status only where providers put
// it: "status code: 429", "googleapi: Error 503", "HTTP 529".
var transientStatus = regexp.MustCompile(`(?:status(?:[ _]code)?"?|error|http)[\s:=]*(?:429|503|529)\b`)

var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"overloaded",
	"resource_exhausted",
	"resource has been exhausted",
}

// IsTransient reports whether err belongs to the retryable "too many
// requests / overloaded" class. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTooManyRequests) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if transientStatus.MatchString(msg) {
		return true
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
