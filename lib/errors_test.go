package lib

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestIsCanceled(t *testing.T) {
	require.True(t, IsCanceled(context.Canceled))
	require.True(t, IsCanceled(trace.Wrap(context.Canceled)))
	require.True(t, IsCanceled(&url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}))
	require.False(t, IsCanceled(context.DeadlineExceeded))
	require.False(t, IsCanceled(errors.New("some error")))
	require.False(t, IsCanceled(nil))
}

func TestIsDeadline(t *testing.T) {
	require.True(t, IsDeadline(context.DeadlineExceeded))
	require.True(t, IsDeadline(trace.Wrap(context.DeadlineExceeded)))
	require.True(t, IsDeadline(&url.Error{Op: "Get", URL: "http://x", Err: fakeTimeoutError{}}))
	require.False(t, IsDeadline(context.Canceled))
	require.False(t, IsDeadline(nil))
}

func TestIsNetworkError(t *testing.T) {
	refused := &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
	require.True(t, IsNetworkError(refused))
	require.False(t, IsNetworkError(&url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}))
	require.False(t, IsNetworkError(&url.Error{Op: "Get", URL: "http://x", Err: fakeTimeoutError{}}))
	require.False(t, IsNetworkError(errors.New("some error")))
	require.False(t, IsNetworkError(nil))
}
