package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Class int

const (
	NonRetryable Class = iota
	Retryable
)

// ClassifyStatus partitions HTTP status codes. 5xx and 429 are retryable, every
// other 4xx is not, and anything outside those ranges defaults to non-retryable.
func ClassifyStatus(code int) Class {
	switch {
	case code >= 500:
		return Retryable
	case code == http.StatusTooManyRequests:
		return Retryable
	default:
		return NonRetryable
	}
}

// Classify decides whether err is worth another attempt.
func Classify(err error) Class {
	if err == nil {
		return NonRetryable
	}
	if errors.Is(err, context.Canceled) {
		return NonRetryable
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.IsAuthError() {
			return NonRetryable
		}
		return ClassifyStatus(se.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}
	return NonRetryable
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return se.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date. Unparsable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
