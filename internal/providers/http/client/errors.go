package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/resilience"
	"github.com/hashicorp/go-retryablehttp"
)

// StatusError is returned by Do for non-2xx responses
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Transient reports whether the status is worth retrying
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || (e.Code >= 500 && e.Code != http.StatusNotImplemented)
}

// IsTransient reports whether a request outcome is a transient failure:
// connection errors, 429 and 5xx. Context cancellation is never transient.
func IsTransient(ctx context.Context, resp *http.Response, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if err == nil && resp == nil {
		return false
	}
	retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	if policyErr != nil {
		return false
	}
	return retry
}

// IsPermanent reports whether err is a definitive upstream answer that
// retrying or tripping the breaker would not change.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Transient()
	}
	return errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests)
}
