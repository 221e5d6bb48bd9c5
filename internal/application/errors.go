package application

import (
	"errors"
	"fmt"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrMeetingClosed is returned when an operation targets a meeting whose
	// lifecycle already ended.
	ErrMeetingClosed = errors.New("application: meeting closed")
	// ErrUnknownParty is returned when a meeting names a party the directory
	// does not know.
	ErrUnknownParty = errors.New("application: unknown party")
	// ErrUnknownProvider is returned when a party's calendar names a provider
	// no backend is registered for.
	ErrUnknownProvider = errors.New("application: unknown provider")
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// Add records a field level validation error.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ConflictError reports that a selected slot stopped being free between
// proposal and confirmation. Refreshed carries the recomputed candidate list
// so callers can choose again without another round trip.
type ConflictError struct {
	MeetingID string
	Refreshed []engine.CandidateSlot
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("meeting %s: selected slot is no longer available", e.MeetingID)
}

// ProviderError wraps a calendar backend failure with enough context to name
// the failing provider and operation.
type ProviderError struct {
	Provider   string
	CalendarID string
	Op         string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s on calendar %s: %v", e.Provider, e.Op, e.CalendarID, e.Err)
}

// Unwrap exposes the underlying provider failure.
func (e *ProviderError) Unwrap() error { return e.Err }

// RollbackError reports that undoing a partially booked confirmation itself
// failed, leaving calendar blocks that need operator cleanup. The meeting is
// flagged for attention when this is returned.
type RollbackError struct {
	MeetingID string
	Orphaned  []meeting.Booking
	Err       error
}

// Error implements the error interface.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("meeting %s: rollback left %d orphaned calendar blocks: %v", e.MeetingID, len(e.Orphaned), e.Err)
}

// Unwrap exposes the failure that interrupted the rollback.
func (e *RollbackError) Unwrap() error { return e.Err }
