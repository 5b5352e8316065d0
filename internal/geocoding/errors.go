package geocoding

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by providers.
var (
	ErrEmptyResponse = errors.New("geocoding API returned no results")
	ErrInvalidCoords = errors.New("geocoding API returned invalid coordinates")
	ErrRateLimited   = errors.New("geocoding API rate limit exceeded")
)

// StatusError is returned when a provider answers with a non-200 HTTP status.
// A 429 status matches ErrRateLimited through errors.Is.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Is reports rate-limit responses as ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}
