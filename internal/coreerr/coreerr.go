// Package coreerr defines the seven-kind error taxonomy that upstream
// providers and collectors report in (collectors classify a failed Store
// write as storage), so the scheduler can make retry/failure-budget
// decisions from one consistent shape instead of inspecting unstructured
// errors. The store adapter and the webhook dispatcher return plain
// wrapped errors.
package coreerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes an error for retry and failure-budget decisions.
type Kind string

const (
	RateLimit   Kind = "rate_limit"
	Network     Kind = "network"
	ServerError Kind = "server_error"
	ClientError Kind = "client_error"
	Validation  Kind = "validation"
	Storage     Kind = "storage"
	Unexpected  Kind = "unexpected"
)

// Recoverable reports whether a failure of this kind is a "soft" failure
// that retrying might clear. Every kind counts toward a task's
// consecutive-failure budget; recoverability only governs in-tick retry
// eligibility, through RetryRecommended.
func (k Kind) Recoverable() bool {
	switch k {
	case RateLimit, Network, ServerError, Storage:
		return true
	default:
		return false
	}
}

// RetryRecommended reports whether the scheduler should re-attempt the
// same task within the current tick.
func (k Kind) RetryRecommended() bool {
	return k.Recoverable()
}

// CoreError is the structured error value upstream providers return and
// collectors classify into.
type CoreError struct {
	Kind       Kind
	Detail     string
	RetryAfter time.Duration // advisory, set on RateLimit
	cause      error
}

// New builds a CoreError of the given kind wrapping cause (may be nil).
func New(kind Kind, detail string, cause error) *CoreError {
	return &CoreError{Kind: kind, Detail: detail, cause: cause}
}

// WithRetryAfter attaches an advisory retry-after duration, used for the
// rate_limit kind per the upstream provider's throttle signal.
func (e *CoreError) WithRetryAfter(d time.Duration) *CoreError {
	e.RetryAfter = d
	return e
}

func (e *CoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *CoreError) Unwrap() error {
	return e.cause
}

// As extracts a *CoreError from err, or reports ok=false if none is
// present in the chain.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Classify wraps an arbitrary error as Unexpected unless it already
// carries a CoreError in its chain, in which case that is returned
// unchanged. Used at boundaries that call into code this module does
// not control (e.g. an upstream client stub).
func Classify(err error) *CoreError {
	if err == nil {
		return nil
	}
	if ce, ok := As(err); ok {
		return ce
	}
	return New(Unexpected, "unclassified error", err)
}
