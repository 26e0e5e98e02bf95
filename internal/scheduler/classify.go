package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lessonforge/internal/llm"
)

// ExhaustedError reports that a call failed on every attempt
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// retryableStatuses are HTTP statuses worth retrying
var retryableStatuses = map[int]bool{
	408: true, // request timeout
	425: true, // too early
	429: true, // rate limited
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryableCodes are provider reason codes that indicate transient load
var retryableCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"resource_exhausted":  true,
	"overloaded_error":    true,
	"server_error":        true,
}

// transientMessages are substrings of stringly-typed provider errors
// that indicate a transient condition
var transientMessages = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"broken pipe",
	"socket",
	"unexpected eof",
	"temporarily unavailable",
	"service unavailable",
	"overloaded",
}

// fatalMessages override everything else: retrying cannot fix an
// exhausted budget
var fatalMessages = []string{
	"quota",
	"insufficient balance",
	"insufficient credit",
	"billing",
	"payment required",
}

// classifyFailure decides whether a failed call is worth retrying.
// Provider error shapes are inherently stringly-typed, so the rule
// table leans on status codes first and message substrings last.
func classifyFailure(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalMessages {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if retryableStatuses[apiErr.StatusCode] {
			return true
		}
		if apiErr.StatusCode == 0 {
			// Transport-level failure with no response
			return true
		}
		if retryableCodes[strings.ToLower(apiErr.Code)] || retryableCodes[strings.ToLower(apiErr.Type)] {
			return true
		}
		return false
	}

	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryInRegex matches provider messages like "retry in 7 seconds",
// "please retry after 2.5s"
var retryInRegex = regexp.MustCompile(`retry (?:in|after) (\d+(?:\.\d+)?)\s*s`)

// retryHint extracts a provider-supplied retry delay from an error:
// the structured field when present, otherwise the message text.
func retryHint(err error) time.Duration {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}

	matches := retryInRegex.FindStringSubmatch(strings.ToLower(err.Error()))
	if len(matches) > 1 {
		var secs float64
		if _, scanErr := fmt.Sscanf(matches[1], "%f", &secs); scanErr == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}
