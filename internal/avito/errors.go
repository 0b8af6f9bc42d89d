package avito

import (
	"fmt"
	"time"
)

// APIError is returned for non-2xx Avito responses that are not rate limits.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("avito: API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("avito: API returned status %d: %s", e.StatusCode, e.Body)
}

// RateLimitError carries the wait the server asked for on a 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("avito: rate limited, retry after %s", e.RetryAfter)
}

// AuthError indicates the API rejected our credentials or token.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("avito: authorization rejected with status %d", e.StatusCode)
}
