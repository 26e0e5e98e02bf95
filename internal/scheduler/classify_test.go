package scheduler

import (
	"errors"
	"testing"
	"time"

	"lessonforge/internal/llm"
)

func TestClassifyFailureStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"request timeout", 408, true},
		{"too early", 425, true},
		{"rate limited", 429, true},
		{"internal server error", 500, true},
		{"bad gateway", 502, true},
		{"service unavailable", 503, true},
		{"gateway timeout", 504, true},
		{"bad request", 400, false},
		{"unauthorized", 401, false},
		{"forbidden", 403, false},
		{"not found", 404, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &llm.APIError{Message: "provider error", StatusCode: tt.status}
			if got := classifyFailure(err); got != tt.retryable {
				t.Errorf("classifyFailure(status %d) = %v, want %v", tt.status, got, tt.retryable)
			}
		})
	}
}

func TestClassifyFailureTransportError(t *testing.T) {
	err := &llm.APIError{Message: "request failed: dial tcp: connection refused", StatusCode: 0}
	if !classifyFailure(err) {
		t.Error("Expected transport-level failure to be retryable")
	}
}

func TestClassifyFailureReasonCodes(t *testing.T) {
	err := &llm.APIError{Message: "slow down", StatusCode: 418, Code: "rate_limit_exceeded"}
	if !classifyFailure(err) {
		t.Error("Expected known rate-limit reason code to be retryable")
	}

	err = &llm.APIError{Message: "try later", StatusCode: 418, Type: "overloaded_error"}
	if !classifyFailure(err) {
		t.Error("Expected overloaded type to be retryable")
	}
}

func TestClassifyFailureMessageSubstrings(t *testing.T) {
	tests := []struct {
		msg       string
		retryable bool
	}{
		{"rate limit exceeded for model", true},
		{"request timed out", true},
		{"read: connection reset by peer", true},
		{"write: broken pipe", true},
		{"unexpected EOF", true},
		{"service temporarily unavailable", true},
		{"invalid request body", false},
		{"unknown model name", false},
	}

	for _, tt := range tests {
		if got := classifyFailure(errors.New(tt.msg)); got != tt.retryable {
			t.Errorf("classifyFailure(%q) = %v, want %v", tt.msg, got, tt.retryable)
		}
	}
}

func TestClassifyFailureQuotaIsFatal(t *testing.T) {
	// Quota exhaustion looks like rate limiting but retrying cannot fix it
	tests := []error{
		&llm.APIError{Message: "you have exceeded your quota", StatusCode: 429},
		&llm.APIError{Message: "insufficient balance to complete request", StatusCode: 429},
		errors.New("rate limit: insufficient credit remaining"),
		&llm.APIError{Message: "billing hard limit reached", StatusCode: 403},
	}
	for _, err := range tests {
		if classifyFailure(err) {
			t.Errorf("Expected fatal classification for %q", err.Error())
		}
	}
}

func TestClassifyFailureNil(t *testing.T) {
	if classifyFailure(nil) {
		t.Error("Expected nil error to not be retryable")
	}
}

func TestRetryHintStructuredField(t *testing.T) {
	err := &llm.APIError{Message: "rate limited", StatusCode: 429, RetryAfter: 12 * time.Second}
	if got := retryHint(err); got != 12*time.Second {
		t.Errorf("Expected 12s from structured field, got %v", got)
	}
}

func TestRetryHintMessageRegex(t *testing.T) {
	tests := []struct {
		msg  string
		want time.Duration
	}{
		{"rate limited, retry in 5 seconds", 5 * time.Second},
		{"Too many requests. Please retry after 2.5s", 2500 * time.Millisecond},
		{"Retry in 30 s", 30 * time.Second},
		{"no hint here", 0},
	}

	for _, tt := range tests {
		if got := retryHint(errors.New(tt.msg)); got != tt.want {
			t.Errorf("retryHint(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestRetryHintStructuredFieldWinsOverMessage(t *testing.T) {
	err := &llm.APIError{
		Message:    "rate limited, retry in 99 seconds",
		StatusCode: 429,
		RetryAfter: 3 * time.Second,
	}
	if got := retryHint(err); got != 3*time.Second {
		t.Errorf("Expected structured field to win, got %v", got)
	}
}
