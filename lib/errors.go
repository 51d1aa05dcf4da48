package lib

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/gravitational/trace"
)

// IsCanceled detects a request that was aborted by its caller, no matter how
// many layers of transport wrapping (url.Error, trace) sit on top.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	err = trace.Unwrap(err)
	if errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && errors.Is(urlErr.Err, context.Canceled)
}

// IsDeadline detects a request that ran over its timeout budget, either via
// context deadline or the transport's own timer.
func IsDeadline(err error) bool {
	if err == nil {
		return false
	}
	err = trace.Unwrap(err)
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNetworkError detects a request that never produced an HTTP response:
// connection refused, DNS failure and the like. Timeouts and cancellations
// are classified separately and excluded here.
func IsNetworkError(err error) bool {
	if err == nil || IsCanceled(err) || IsDeadline(err) {
		return false
	}
	err = trace.Unwrap(err)
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
