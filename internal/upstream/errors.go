package upstream

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an upstream fetch failed.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureMalformed   FailureKind = "malformed_response"
	FailureUnavailable FailureKind = "unavailable"
)

// Error is a typed upstream fetch failure. The cache inspects it to decide
// whether a stale entry can still be served.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUpstreamError reports whether err (or anything it wraps) is an
// upstream fetch failure.
func IsUpstreamError(err error) bool {
	var ue *Error
	return errors.As(err, &ue)
}
