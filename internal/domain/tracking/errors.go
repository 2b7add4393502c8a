package tracking

import (
	"errors"
	"strings"
)

// Failure kinds returned by the tracking client
var (
	ErrProxyConfigInvalid    = errors.New("proxy configuration invalid")
	ErrUpstreamRequestFailed = errors.New("upstream request failed")
	ErrCarrierUnrecognized   = errors.New("carrier unrecognized")
	ErrInvalidNumber         = errors.New("invalid tracking number")
)

// Error carries the failure kind, the tracking number or input it concerns
// and the cause
type Error struct {
	Kind   error
	Number string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Number != "" {
		b.WriteString(e.Number)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the failure kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func upstreamError(number string, err error) *Error {
	return &Error{Kind: ErrUpstreamRequestFailed, Number: number, Err: err}
}
