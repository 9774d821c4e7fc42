package kepler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJSON means the response body is not valid JSON.
	ErrInvalidJSON = errors.New("response is not valid JSON")
	// ErrNotArray means the response body is valid JSON but not an array.
	ErrNotArray = errors.New("response is not a JSON array")
	// ErrUnexpectedStatus means the data source answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// FetchError reports a transport failure while fetching the dataset:
// connection errors, timeouts, unreadable bodies and non-2xx responses.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a response body that is not an array of records.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse dataset: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
