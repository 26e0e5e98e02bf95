package llm

import (
	"fmt"
	"time"
)

// APIError represents an error returned by the model provider
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	// RetryAfter is the provider-supplied retry hint, zero if absent
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
