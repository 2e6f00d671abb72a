package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrDepartmentPage means no categories could be discovered; the run cannot continue.
	ErrDepartmentPage = errors.New("department page unavailable")
	// ErrCategoryPlanning means the page count of a category could not be determined.
	ErrCategoryPlanning = errors.New("category planning failed")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates a response with a non-success status code.
type ErrHTTPStatus struct {
	StatusCode int
	Err        error
}

func (e ErrHTTPStatus) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Errorf("http status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrHTTPStatus) Unwrap() error {
	return e.Err
}

// ErrParseUnavailable indicates a body that could not be decoded as text.
type ErrParseUnavailable struct {
	URL string
}

func (e ErrParseUnavailable) Error() string {
	return fmt.Sprintf("parse_unavailable: body of %s is not valid text", e.URL)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "http_status"
	}
	var parse ErrParseUnavailable
	if errors.As(err, &parse) {
		return "parse_unavailable"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	// colly reports anything from 203 upwards as a failed response.
	if statusCode >= http.StatusNonAuthoritativeInfo || (statusCode != 0 && statusCode < http.StatusOK) {
		return ErrHTTPStatus{StatusCode: statusCode, Err: err}
	}

	if err == nil {
		return nil
	}
	return err
}

// retryable reports whether a failed unit of work may be attempted again.
// Only cancellation of the run stops the retry loop early.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
