package feed

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/teranos/marketpulse/errors"
)

// ErrRequestFailed marks a request that failed for good: a permanent HTTP
// error, or a transient one that outlived its retries. The HTTP status is
// available through errors.As with *RequestError.
var ErrRequestFailed = errors.New("feed request failed")

// RequestError is a non-2xx response from the feed
type RequestError struct {
	Status   int
	Endpoint string
	Message  string // error text from the response body, if any
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("feed %s returned %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("feed %s returned %d %s", e.Endpoint, e.Status, http.StatusText(e.Status))
}

// Transient reports whether the status is worth retrying
func (e *RequestError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsTransient reports whether err is a rate limit, a server error or a
// transport failure. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Transient()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	return 0
}
