package remote

import (
	"fmt"
	"time"
)

// AuthError indicates the platform rejected our credentials. Campaign-fatal:
// retrying cannot help a misconfigured token.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("platform rejected credentials (HTTP %d)", e.Status)
}

// RateLimitError indicates the platform throttled the request. The caller
// must back off; RetryAfter is the platform's hint when one was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("platform rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "platform rate limit exceeded"
}

// NotFoundError indicates the requested run or repository is unknown to the
// platform, e.g. a diff requested for a repository outside the run.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}
