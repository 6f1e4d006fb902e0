package errors

import (
	stderrors "errors"
	"net"
	"strings"
)

// ErrorCategory classifies errors for retry decisions
type ErrorCategory string

const (
	ErrorCategoryRetryable ErrorCategory = "retryable"
	ErrorCategoryPermanent ErrorCategory = "permanent"
	ErrorCategoryTimeout   ErrorCategory = "timeout"
	ErrorCategoryRateLimit ErrorCategory = "rate_limit"
)

// Categorize decides how a backend failure should be treated by the store wrappers.
// Semantic errors (not found, access, validation) are always permanent.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryPermanent
	}

	var se *StandardError
	if stderrors.As(err, &se) && se.ErrorInfo.Code != ErrorCodeStoreUnavailable {
		return ErrorCategoryPermanent
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}

	switch {
	case isRateLimitError(err):
		return ErrorCategoryRateLimit
	case isTemporaryError(err):
		return ErrorCategoryRetryable
	default:
		return ErrorCategoryPermanent
	}
}

// IsRetryable reports whether a wrapper may try the call again
func IsRetryable(err error) bool {
	switch Categorize(err) {
	case ErrorCategoryRetryable, ErrorCategoryTimeout, ErrorCategoryRateLimit:
		return true
	default:
		return false
	}
}

func isTemporaryError(err error) bool {
	msg := strings.ToLower(err.Error())
	temporaryPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporary failure",
		"service unavailable",
		"unavailable",
		"deadline exceeded",
		"eof",
	}

	for _, pattern := range temporaryPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "too many requests", "429"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
