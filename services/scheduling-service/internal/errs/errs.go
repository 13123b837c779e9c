// Package errs defines the failure taxonomy shared by the scheduling engine.
// Every failure is per-request; callers classify with errors.Is against the sentinels.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("requested slot is not available")
	ErrConcurrency = errors.New("slot no longer available")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Conflict reasons reported per occurrence.
const (
	ReasonInPast              = "in_past"
	ReasonOutsideAvailability = "outside_availability"
	ReasonBlocked             = "blocked"
	ReasonAlreadyBooked       = "already_booked"
)

type Conflict struct {
	Index  int
	Start  time.Time
	End    time.Time
	Reason string
}

// ConflictError lists every occurrence of a booking request that failed validation.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("#%d %s (%s)", c.Index, c.Start.UTC().Format(time.RFC3339), c.Reason))
	}
	return "booking rejected: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Indexes returns the failed occurrence offsets in request order.
func (e *ConflictError) Indexes() []int {
	out := make([]int, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		out = append(out, c.Index)
	}
	return out
}

func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}
