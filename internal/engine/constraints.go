package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/meeting-broker/internal/timeline"
)

// DefaultStep is the candidate emission granularity used when a constraint
// set does not specify one.
const DefaultStep = 15 * time.Minute

// ClockWindow is a wall-clock window expressed as minutes from midnight UTC.
// Used for soft preferences only.
type ClockWindow struct {
	StartMinute int
	EndMinute   int
}

// ConstraintSet describes the requirements of one meeting. It is immutable
// once a resolution pass starts.
type ConstraintSet struct {
	Duration      time.Duration
	EarliestStart time.Time
	LatestStart   time.Time
	BufferBefore  time.Duration
	BufferAfter   time.Duration
	// BlackoutDates lists UTC calendar days on which no slot may start.
	// Only the date component is significant.
	BlackoutDates []time.Time
	// RequiredParties must be free for a slot to be eligible. Parties on the
	// meeting that are not required only contribute soft violations.
	RequiredParties []string
	// Step overrides DefaultStep when positive.
	Step time.Duration
	// PreferredWindow, when non-nil, marks slots starting outside it with the
	// soft violation "outside_preferred_window".
	PreferredWindow *ClockWindow
}

// step returns the effective emission granularity.
func (c ConstraintSet) step() time.Duration {
	if c.Step > 0 {
		return c.Step
	}
	return DefaultStep
}

// ConstraintError reports an internally inconsistent constraint set. It is a
// caller bug, surfaced eagerly rather than as an empty candidate list.
type ConstraintError struct {
	Reasons []string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if e == nil || len(e.Reasons) == 0 {
		return "engine: inconsistent constraint set"
	}
	return "engine: inconsistent constraint set: " + strings.Join(e.Reasons, "; ")
}

func (e *ConstraintError) add(reason string) {
	e.Reasons = append(e.Reasons, reason)
}

func (e *ConstraintError) hasReasons() bool {
	return e != nil && len(e.Reasons) > 0
}

// Validate checks the constraint set against the party timelines that a
// resolution pass will run over. A nil return means the search may still
// yield no slots; that outcome is reported as an empty sequence, not an
// error.
func (c ConstraintSet) Validate(parties []timeline.PartyTimeline) error {
	cErr := &ConstraintError{}

	if c.Duration <= 0 {
		cErr.add("duration must be positive")
	}
	if c.EarliestStart.IsZero() {
		cErr.add("earliest start is required")
	}
	if c.LatestStart.IsZero() {
		cErr.add("latest start is required")
	}
	if !c.EarliestStart.IsZero() && !c.LatestStart.IsZero() && c.EarliestStart.After(c.LatestStart) {
		cErr.add("earliest start is after latest start")
	}
	if c.BufferBefore < 0 || c.BufferAfter < 0 {
		cErr.add("buffers must not be negative")
	}
	if c.Step < 0 {
		cErr.add("step must not be negative")
	}
	if c.PreferredWindow != nil && c.PreferredWindow.StartMinute >= c.PreferredWindow.EndMinute {
		cErr.add("preferred window is empty")
	}

	known := make(map[string]struct{}, len(parties))
	for _, party := range parties {
		known[party.PartyID] = struct{}{}
	}
	for _, required := range c.RequiredParties {
		if _, ok := known[required]; !ok {
			cErr.add(fmt.Sprintf("required party %s has no timeline", required))
		}
	}

	if c.Duration > 0 {
		for _, party := range parties {
			if c.Duration > party.Hours.WindowLength() {
				cErr.add(fmt.Sprintf("duration %s exceeds working window of party %s", c.Duration, party.PartyID))
			}
		}
	}

	if cErr.hasReasons() {
		return cErr
	}
	return nil
}

// blackoutSet indexes blackout dates by their UTC day.
func (c ConstraintSet) blackoutSet() map[string]struct{} {
	if len(c.BlackoutDates) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.BlackoutDates))
	for _, day := range c.BlackoutDates {
		set[day.UTC().Format(time.DateOnly)] = struct{}{}
	}
	return set
}

// requiredSet indexes required party ids.
func (c ConstraintSet) requiredSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.RequiredParties))
	for _, id := range c.RequiredParties {
		set[id] = struct{}{}
	}
	return set
}
