package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrTransientBroker = errors.New("transient broker error")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
)

// TransientBrokerError reports a failed publish. The outbox row that produced
// it stays unprocessed and is retried on the next poll cycle.
type TransientBrokerError struct {
	Destination string
	Err         error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("publishing to %s: %v", e.Destination, e.Err)
}

func (e *TransientBrokerError) Unwrap() error { return e.Err }

func (e *TransientBrokerError) Is(target error) bool { return target == ErrTransientBroker }

// RateLimitedError is returned when the external catalog API refuses a
// request. RetryAfter is the server's hint and is zero when none was sent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// NotFoundError reports a missing entity, local or remote.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
