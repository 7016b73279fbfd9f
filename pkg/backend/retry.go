package backend

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// retryingClient wraps *http.Client with a connection-class-only retry
// policy: only dial failures and connection resets are retried, with
// exponential backoff delays of base*2^k for k=0..N-1. HTTP error
// statuses and read timeouts are surfaced directly rather than retried.
type retryingClient struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

func newRetryingClient(httpClient *http.Client, maxRetries int, baseDelay time.Duration) *retryingClient {
	return &retryingClient{http: httpClient, maxRetries: maxRetries, baseDelay: baseDelay}
}

// do executes req, retrying only on connection-class errors. newReq must
// build a fresh *http.Request on each attempt since a request body reader
// cannot be replayed after a failed Do.
func (c *retryingClient) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isConnectionError(err) || attempt == c.maxRetries {
			return nil, err
		}
		delay := c.baseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// isConnectionError reports whether err is a dial failure or connection
// reset, as opposed to an HTTP error status (which isn't even an error at
// this layer) or a context-deadline read timeout (which must propagate
// directly).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return false
		}
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		if opErr.Op == "dial" {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
