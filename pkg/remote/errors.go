package remote

import (
	"fmt"
)

// ConnectionError is a failure the server or network reported synchronously:
// DNS failure, refused connection, an HTTP error status, or a transport that
// gave up. Retrying the same request blindly is assumed futile.
type ConnectionError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connection error for %s: status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("connection error for %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError means a connection was made but headers or body bytes did not
// arrive within the idle window.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout for %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// RangeMismatchError reports that a resume would have written at the wrong
// offset. Reported is -1 when the offset could not be determined at all.
type RangeMismatchError struct {
	URL       string
	Requested int64
	Reported  int64
	Reason    string
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("cannot resume %s from byte %d: %s (got %d)", e.URL, e.Requested, e.Reason, e.Reported)
}

func errUnexpectedStatus(url string, statusCode int) error {
	return &ConnectionError{URL: url, StatusCode: statusCode, Err: fmt.Errorf("status code %d", statusCode)}
}
