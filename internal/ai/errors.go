package ai

import (
	"errors"
	"fmt"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrProviderAPI         = errors.New("ai provider api error")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrMissingCredential   = errors.New("ai provider credential not configured")
)

// APIError carries the HTTP status and body of a failed provider call.
// It matches ErrRateLimited for 429 responses and ErrProviderAPI otherwise.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ai provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	if e.StatusCode == 429 {
		return target == ErrRateLimited
	}
	return target == ErrProviderAPI
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInferenceTimeout) || errors.Is(err, ErrRateLimited)
}
