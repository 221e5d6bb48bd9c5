package meeting

import (
	"fmt"
	"time"

	"github.com/example/meeting-broker/internal/engine"
)

// State is a meeting lifecycle state.
type State string

const (
	// StateDraft means the request is captured but not yet resolved.
	StateDraft State = "draft"
	// StateProposed means candidate slots are offered, awaiting a choice.
	StateProposed State = "proposed"
	// StateConfirming is the short-lived sub-state held while booked blocks
	// are written to each party's calendar.
	StateConfirming State = "confirming"
	// StateConfirmed means a slot is committed on all parties' calendars.
	StateConfirmed State = "confirmed"
	// StateConflicted means a previously confirmed slot is no longer free.
	StateConflicted State = "conflicted"
	// StateRescheduled means a conflicted meeting was re-resolved to a new
	// confirmed slot.
	StateRescheduled State = "rescheduled"
	// StateCancelled is terminal.
	StateCancelled State = "cancelled"
	// StateExpired is terminal: every offered slot's start passed without a
	// choice.
	StateExpired State = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateExpired
}

// Committed reports whether the state carries an authoritative slot on
// external calendars.
func (s State) Committed() bool {
	return s == StateConfirmed || s == StateRescheduled
}

var transitions = map[State][]State{
	StateDraft:       {StateProposed, StateCancelled},
	StateProposed:    {StateConfirming, StateExpired, StateCancelled},
	StateConfirming:  {StateConfirmed, StateRescheduled, StateProposed, StateCancelled},
	StateConfirmed:   {StateConflicted, StateCancelled},
	StateConflicted:  {StateConfirming, StateCancelled},
	StateRescheduled: {StateConflicted, StateCancelled},
}

// CanTransition reports whether the lifecycle permits moving from one state
// to another.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	MeetingID string
	From      State
	To        State
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("meeting %s: invalid transition %s -> %s", e.MeetingID, e.From, e.To)
}

// Event is one entry in a meeting's append-only history: either a state
// transition or, when From equals To, a recorded note such as a non-fatal
// error.
type Event struct {
	From  State
	To    State
	At    time.Time
	Cause string
}

// Booking records the external calendar entry created for one party when a
// slot was committed.
type Booking struct {
	PartyID     string
	Provider    string
	CalendarID  string
	ProviderRef string
}

// Meeting is the only entity with identity and a persisted lifecycle.
// Everything else in a resolution pass is transient state recreated from
// external calendar reads.
type Meeting struct {
	ID          string
	Parties     []string
	Constraints engine.ConstraintSet

	State         State
	Candidates    []engine.CandidateSlot
	CommittedSlot *engine.CandidateSlot
	Bookings      []Booking
	History       []Event

	NeedsAttention     bool
	ResolutionAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a Draft meeting for the given parties and constraints.
func New(id string, parties []string, constraints engine.ConstraintSet, now time.Time) Meeting {
	return Meeting{
		ID:          id,
		Parties:     append([]string(nil), parties...),
		Constraints: constraints,
		State:       StateDraft,
		History: []Event{
			{From: StateDraft, To: StateDraft, At: now, Cause: "meeting requested"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the meeting to a new state, appending a history event
// with the timestamp and cause. Transitions out of a terminal state fail with
// *InvalidTransitionError; callers treat terminal-state triggers as no-ops
// before reaching here because duplicate external notifications are expected.
func (m *Meeting) TransitionTo(to State, at time.Time, cause string) error {
	if !CanTransition(m.State, to) {
		return &InvalidTransitionError{MeetingID: m.ID, From: m.State, To: to}
	}
	m.History = append(m.History, Event{From: m.State, To: to, At: at, Cause: cause})
	m.State = to
	m.UpdatedAt = at
	return nil
}

// RecordNote appends a history entry without changing state. Non-fatal errors
// are recorded this way so decisions can be reconstructed later.
func (m *Meeting) RecordNote(at time.Time, cause string) {
	m.History = append(m.History, Event{From: m.State, To: m.State, At: at, Cause: cause})
	m.UpdatedAt = at
}

// ReleaseSlot clears the committed slot while retaining it in history, so no
// transition silently loses a previously committed slot.
func (m *Meeting) ReleaseSlot(at time.Time, cause string) {
	if m.CommittedSlot == nil {
		return
	}
	m.RecordNote(at, fmt.Sprintf("released committed slot %s-%s: %s",
		m.CommittedSlot.Start.Format(time.RFC3339), m.CommittedSlot.End.Format(time.RFC3339), cause))
	m.CommittedSlot = nil
}

// Commit records the committed slot and the bookings written for it.
func (m *Meeting) Commit(slot engine.CandidateSlot, bookings []Booking) {
	committed := slot
	m.CommittedSlot = &committed
	m.Bookings = append([]Booking(nil), bookings...)
}

// AllCandidatesPassed reports whether every offered slot's start time is
// behind the reference instant. A Proposed meeting in this situation expires.
func (m Meeting) AllCandidatesPassed(reference time.Time) bool {
	if len(m.Candidates) == 0 {
		return false
	}
	for _, slot := range m.Candidates {
		if slot.Start.After(reference) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the meeting.
func (m Meeting) Clone() Meeting {
	out := m
	out.Parties = append([]string(nil), m.Parties...)
	out.Candidates = append([]engine.CandidateSlot(nil), m.Candidates...)
	out.Bookings = append([]Booking(nil), m.Bookings...)
	out.History = append([]Event(nil), m.History...)
	if m.CommittedSlot != nil {
		committed := *m.CommittedSlot
		out.CommittedSlot = &committed
	}
	return out
}
