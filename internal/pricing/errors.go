package pricing

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchErrorKind classifies fetch failures. The worker's retry decision
// hangs entirely off this value.
type FetchErrorKind string

// Fetch failure kinds.
const (
	// FetchTimeout covers deadline and navigation timeouts. Retried.
	FetchTimeout FetchErrorKind = "timeout"
	// FetchHTTP covers non-2xx responses. 5xx is retried, 4xx is not.
	FetchHTTP FetchErrorKind = "http"
	// FetchBlocked means the store served a captcha or rate-limit wall.
	// The whole store cools down, not just the job.
	FetchBlocked FetchErrorKind = "blocked"
	// FetchParse means the page structure changed. Never retried; the
	// fetcher needs updating, so the page is captured for an operator.
	FetchParse FetchErrorKind = "parse"
)

// FetchError is the one failure type fetchers are allowed to return.
// HTML carries the fetched page on parse failures so the worker can
// capture it for an operator; it is nil for every other kind.
type FetchError struct {
	Kind       FetchErrorKind
	Store      string
	URL        string
	StatusCode int
	HTML       []byte
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch %s (%s, status %d): %v", e.Kind, e.URL, e.Store, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch %s (%s): %v", e.Kind, e.URL, e.Store, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same job can plausibly succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchBlocked:
		return true
	case FetchHTTP:
		return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// NewFetchError builds a typed fetch failure.
func NewFetchError(kind FetchErrorKind, store, url string, status int, err error) *FetchError {
	return &FetchError{Kind: kind, Store: store, URL: url, StatusCode: status, Err: err}
}

// AsFetchError unwraps err into a *FetchError if one is in the chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrQueueClosed is returned by queue operations after shutdown.
var ErrQueueClosed = errors.New("queue closed")
