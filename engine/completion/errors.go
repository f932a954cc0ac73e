package completion

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// FailureKind classifies a completion failure for retry policy. The wrapper
// switches on the kind alone; provider error text is inspected only inside
// the transport adapter's classifier.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureRateLimit
	FailureAuth
	FailureTimeout
	FailureUnavailable
	FailureInvalidRequest
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimit:
		return "rate_limit"
	case FailureAuth:
		return "auth"
	case FailureTimeout:
		return "timeout"
	case FailureUnavailable:
		return "unavailable"
	case FailureInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Error is a classified completion failure.
type Error struct {
	Kind     FailureKind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion %s (%s/%s): %v", e.Kind, e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyError maps a raw provider error onto a FailureKind. Providers
// surface failures as flattened text, so classification matches on status
// codes and well-known phrases here and nowhere else.
func classifyError(provider string, model string, err error) *Error {
	if err == nil {
		return nil
	}
	kind := FailureUnknown
	msg := strings.ToLower(err.Error())
	if status := extractStatusCode(msg); status > 0 {
		kind = kindForStatus(status)
	}
	if kind == FailureUnknown {
		kind = kindForText(msg)
	}
	return &Error{Kind: kind, Provider: provider, Model: model, Err: err}
}

func kindForStatus(status int) FailureKind {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestEntityTooLarge:
		// Oversized requests hit the provider's token-per-minute window and
		// clear on backoff the same way 429s do.
		return FailureRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return FailureTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return FailureUnavailable
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

func kindForText(msg string) FailureKind {
	rateLimit := []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "quota exceeded", "throttl"}
	for _, pattern := range rateLimit {
		if strings.Contains(msg, pattern) {
			return FailureRateLimit
		}
	}
	auth := []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "permission denied"}
	for _, pattern := range auth {
		if strings.Contains(msg, pattern) {
			return FailureAuth
		}
	}
	timeout := []string{"context deadline exceeded", "timeout", "timed out"}
	for _, pattern := range timeout {
		if strings.Contains(msg, pattern) {
			return FailureTimeout
		}
	}
	unavailable := []string{"service unavailable", "temporarily unavailable", "connection refused", "overloaded", "no such host"}
	for _, pattern := range unavailable {
		if strings.Contains(msg, pattern) {
			return FailureUnavailable
		}
	}
	invalid := []string{"invalid model", "model not found", "content policy"}
	for _, pattern := range invalid {
		if strings.Contains(msg, pattern) {
			return FailureInvalidRequest
		}
	}
	return FailureUnknown
}

// extractStatusCode pulls a three-digit HTTP status out of common provider
// error phrasings such as "status code: 429" or "HTTP 503".
func extractStatusCode(msg string) int {
	prefixes := []string{"status code: ", "status code ", "status: ", "http ", "error code ", "code "}
	for _, prefix := range prefixes {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		start := idx + len(prefix)
		end := start
		for end < len(msg) && end < start+3 && msg[end] >= '0' && msg[end] <= '9' {
			end++
		}
		if end-start == 3 {
			if code, err := strconv.Atoi(msg[start:end]); err == nil && code >= 100 && code < 600 {
				return code
			}
		}
	}
	return 0
}
