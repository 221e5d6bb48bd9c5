// Package provider defines the capability interface the engine needs from a
// calendar backend. The engine depends only on this interface; one
// implementation exists per provider.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrBlockNotFound is returned when a booked block to delete no longer exists
// on the provider. Deletion of a missing block is not a failure for callers
// rolling back.
var ErrBlockNotFound = errors.New("provider: block not found")

// RawBusy is one busy interval as read from a provider, before normalization.
// Start and End carry whatever zone the provider tagged them with.
type RawBusy struct {
	Start  time.Time
	End    time.Time
	Source string
}

// Block is a busy block the engine writes back when a slot is committed.
// Source carries the owning meeting id so reconciliation can recognize the
// meeting's own entry.
type Block struct {
	Start   time.Time
	End     time.Time
	Source  string
	Summary string
}

// Change is a coarse notification that a calendar's contents changed.
type Change struct {
	CalendarID string
	ChangedAt  time.Time
}

// Calendar is the capability interface for one provider.
type Calendar interface {
	// ReadBusy returns raw busy intervals for a calendar over a bounded range.
	ReadBusy(ctx context.Context, calendarID string, from, to time.Time) ([]RawBusy, error)
	// CreateBlock writes a busy block and returns a provider-specific
	// reference usable for deletion.
	CreateBlock(ctx context.Context, calendarID string, block Block) (string, error)
	// DeleteBlock removes a previously created block.
	DeleteBlock(ctx context.Context, calendarID string, ref string) error
}

// CalendarRef names one calendar of one party: which provider implementation
// serves it and the provider-side identifier.
type CalendarRef struct {
	Provider   string
	CalendarID string
}
