package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. A session that fails ends in StateFailed with one of these.
var (
	ErrAssetFetch         = errors.New("asset fetch failed")
	ErrScriptExecution    = errors.New("script execution failed")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrModuleNotFound     = errors.New("module not found")
	ErrSessionUsed        = errors.New("session already used")
)

// Error carries the failure kind, the stage that produced it and the cause
type Error struct {
	Kind  error
	Op    string
	Err   error
	Known []string // captured module ids, for ErrModuleNotFound
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Kind == ErrModuleNotFound {
		fmt.Fprintf(&b, " (known: [%s])", strings.Join(e.Known, ", "))
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

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the failure kind of err, or nil when err is not a sandbox failure
func KindOf(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return nil
}
