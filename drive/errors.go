package drive

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the upstream throttled the credential used.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUpstream covers every other non-2xx upstream answer.
	ErrUpstream = errors.New("upstream request failed")
	// ErrInvalidFolderRef means no folder id could be read from the reference.
	ErrInvalidFolderRef = errors.New("invalid folder reference")
)

// throttleReasons are 403 reasons the storage API uses for quota and rate limits.
var throttleReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
	"quotaExceeded":         true,
}

// APIError is a non-2xx upstream response.
type APIError struct {
	Status  int
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream returned %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Throttled reports whether rotating the credential may help.
func (e *APIError) Throttled() bool {
	return e.Status == 429 || (e.Status == 403 && throttleReasons[e.Reason])
}

func (e *APIError) Unwrap() error {
	if e.Throttled() {
		return ErrRateLimited
	}
	return ErrUpstream
}
