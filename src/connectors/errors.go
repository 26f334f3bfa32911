package connectors

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// ErrorKind classifies a venue failure for the caller. The engine retries
// only Transient errors; Auth errors disable the credential; Rejected
// errors terminate the cycle without retry.
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindTransient ErrorKind = "transient"
	KindRejected  ErrorKind = "rejected"
	KindUnknown   ErrorKind = "unknown"
)

// VenueError is the only error type connectors surface for venue-side
// failures. Raw keeps the untouched venue payload for diagnostics; the
// observed "price higher than maximum" rejection of a priceless market
// order is exactly the case where Raw matters to an operator.
type VenueError struct {
	Venue string
	Kind  ErrorKind
	Code  string
	Msg   string
	Raw   string
}

func (e *VenueError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s error %s: %s", e.Venue, e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Venue, e.Kind, e.Msg)
}

// IsAuth reports whether err is a venue credential failure.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsTransient reports whether err may be retried with backoff.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsRejected reports whether the venue validated and refused the request.
func IsRejected(err error) bool { return kindOf(err) == KindRejected }

func kindOf(err error) ErrorKind {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// asVenueError is a typed shorthand around errors.As.
func asVenueError(err error, target **VenueError) bool {
	return errors.As(err, target)
}

// UnsupportedVenueError is returned by the factory for venue identifiers it
// has no connector for. Failing fast here beats handing out a
// partially-functional adapter.
type UnsupportedVenueError struct {
	Venue string
}

func (e *UnsupportedVenueError) Error() string {
	return fmt.Sprintf("unsupported venue %q", e.Venue)
}

// transportError wraps a failed HTTP round trip. Timeouts and connection
// resets are always transient.
func transportError(venue string, err error) *VenueError {
	return &VenueError{Venue: venue, Kind: KindTransient, Msg: err.Error()}
}

// httpKind maps an HTTP status to an error kind when the venue body gave no
// usable code.
func httpKind(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindRejected
	}
	return KindUnknown
}

func httpError(venue string, resp *resty.Response) *VenueError {
	return &VenueError{
		Venue: venue,
		Kind:  httpKind(resp.StatusCode()),
		Code:  fmt.Sprintf("http_%d", resp.StatusCode()),
		Msg:   resp.Status(),
		Raw:   string(resp.Body()),
	}
}

// isRetryableResp is the shared resty retry condition: network error, 5xx,
// rate limit or request timeout.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}
