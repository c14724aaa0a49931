package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable: every retry against the provider failed.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrBadSignature        = errors.New("webhook signature verification failed")
	ErrStaleEvent          = errors.New("webhook event outside skew tolerance")
	ErrBadPayload          = errors.New("webhook payload malformed")
)

// RequestError is a terminal provider rejection (4xx other than 429). It is
// never retried.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider rejected request (%d %s): %s", e.Status, e.Code, e.Message)
}
