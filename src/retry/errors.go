package retry

import (
	"fmt"
	"net/http"
	"time"

	"budgee-sync/src/apperrors"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Endpoint   string
	// OAuthCode is the OAuth error code from the response body, e.g. invalid_grant.
	OAuthCode  string
	Message    string
	RetryAfter time.Duration
	// Revoked is set by adapters whose provider signals a dead credential
	// through its own error codes rather than the HTTP status.
	Revoked bool
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned %d", e.Endpoint, e.StatusCode)
	if e.OAuthCode != "" {
		msg += " (" + e.OAuthCode + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsAuthError reports a revoked or invalid credential.
func (e *StatusError) IsAuthError() bool {
	return e.Revoked ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		e.OAuthCode == "invalid_grant"
}

func (e *StatusError) Kind() apperrors.Kind {
	switch {
	case e.IsAuthError():
		return apperrors.Fatal
	case ClassifyStatus(e.StatusCode) == Retryable:
		return apperrors.Transient
	default:
		return apperrors.KindUnknown
	}
}

// ExhaustedError is returned once every attempt failed with a retryable error.
// It is distinct from StatusError so callers can alert instead of skipping.
type ExhaustedError struct {
	Attempts   int
	LastStatus int
	Endpoint   string
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts calling %s (last status %d): %v",
		e.Attempts, e.Endpoint, e.LastStatus, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Kind() apperrors.Kind { return apperrors.Transient }
