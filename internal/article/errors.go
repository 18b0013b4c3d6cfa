package article

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSlotTimeout marks a fetch slot that was not granted in time.
	ErrSlotTimeout = errors.New("fetch slot timeout")
	// ErrParse marks extraction that produced no usable content.
	ErrParse = errors.New("no usable content extracted")
	// ErrCache marks an unreachable or corrupt cache store.
	ErrCache = errors.New("cache store failure")
	// ErrNotConfigured marks a source missing its credentials or endpoint.
	ErrNotConfigured = errors.New("source not configured")
	// ErrAllSourcesFailed marks a request where every attempted source failed.
	ErrAllSourcesFailed = errors.New("all retrieval methods exhausted")
	// ErrUpstream marks a network failure or non-2xx upstream response.
	ErrUpstream = errors.New("upstream failure")
)

// SlotTimeoutError is returned when a fetch slot is not granted within the
// configured timeout.
type SlotTimeoutError struct {
	Waited time.Duration
}

func (e *SlotTimeoutError) Error() string {
	return fmt.Sprintf("fetch slot not granted within %s", e.Waited)
}

// Is matches ErrSlotTimeout.
func (e *SlotTimeoutError) Is(target error) bool { return target == ErrSlotTimeout }

// UpstreamError wraps a failed call to a source's upstream.
type UpstreamError struct {
	Source     Source
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s upstream status %d: %v", e.Source, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s upstream status %d", e.Source, e.StatusCode)
	default:
		return fmt.Sprintf("%s upstream: %v", e.Source, e.Err)
	}
}

// Unwrap exposes the underlying transport error.
func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Attempt records the failure of one source during a race.
type Attempt struct {
	Source Source
	Err    error
}

// AggregateError is returned when every attempted source failed.
type AggregateError struct {
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllSourcesFailed.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrAllSourcesFailed, strings.Join(parts, "; "))
}

// Is matches ErrAllSourcesFailed.
func (e *AggregateError) Is(target error) bool { return target == ErrAllSourcesFailed }

// Unwrap exposes the per-source errors.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
