package remote

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// transport authenticates every outbound request, tags it with a request id,
// and enforces the global in-flight ceiling shared by all callers of the
// client. Auth and throttling responses are converted into typed errors at
// this level so callers see them regardless of which query tripped them.
type transport struct {
	token    string
	inflight *semaphore.Weighted
	base     http.RoundTripper
}

func newTransport(token string, maxInFlight int64, base http.RoundTripper) *transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &transport{
		token:    token,
		inflight: semaphore.NewWeighted(maxInFlight),
		base:     base,
	}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.inflight.Acquire(req.Context(), 1); err != nil {
		return nil, err
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	clone.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		t.inflight.Release(1)
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		t.drain(resp)
		return nil, &AuthError{Status: resp.StatusCode}
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		t.drain(resp)
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	// Hold the in-flight slot until the caller finishes reading the body.
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { t.inflight.Release(1) }}
	return resp, nil
}

func (t *transport) drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	t.inflight.Release(1)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}
