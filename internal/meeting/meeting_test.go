package meeting

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/meeting-broker/internal/engine"
)

func referenceTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
}

func draftMeeting(t *testing.T) Meeting {
	t.Helper()
	return New("meeting-1", []string{"broker", "client"}, engine.ConstraintSet{Duration: 30 * time.Minute}, referenceTime(t))
}

func TestNew_StartsInDraftWithHistory(t *testing.T) {
	t.Parallel()

	m := draftMeeting(t)
	if m.State != StateDraft {
		t.Fatalf("expected draft state, got %s", m.State)
	}
	if len(m.History) != 1 {
		t.Fatalf("expected creation history entry, got %d entries", len(m.History))
	}
}

func TestTransitionTo_WalksFullLifecycle(t *testing.T) {
	t.Parallel()

	m := draftMeeting(t)
	at := referenceTime(t)

	steps := []struct {
		to    State
		cause string
	}{
		{StateProposed, "3 candidates offered"},
		{StateConfirming, "slot 0 selected"},
		{StateConfirmed, "booked on all calendars"},
		{StateConflicted, "external change on cal-1"},
		{StateConfirming, "automatic re-resolution"},
		{StateRescheduled, "replacement slot booked"},
		{StateCancelled, "client withdrew"},
	}

	for i, step := range steps {
		at = at.Add(time.Minute)
		if err := m.TransitionTo(step.to, at, step.cause); err != nil {
			t.Fatalf("step %d (%s): %v", i, step.to, err)
		}
	}

	// Creation entry plus one per transition.
	if len(m.History) != len(steps)+1 {
		t.Fatalf("expected %d history entries, got %d", len(steps)+1, len(m.History))
	}
	last := m.History[len(m.History)-1]
	if last.From != StateRescheduled || last.To != StateCancelled || last.Cause != "client withdrew" {
		t.Fatalf("unexpected final history entry: %+v", last)
	}
}

func TestTransitionTo_RejectsIllegalMoves(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from State
		to   State
	}{
		{StateDraft, StateConfirmed},
		{StateProposed, StateConflicted},
		{StateConfirmed, StateProposed},
		{StateCancelled, StateProposed},
		{StateExpired, StateConfirming},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			t.Parallel()

			m := draftMeeting(t)
			m.State = tc.from

			err := m.TransitionTo(tc.to, referenceTime(t), "illegal")
			var invalid *InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTransitionError, got %v", err)
			}
			if m.State != tc.from {
				t.Fatalf("state mutated on rejected transition: %s", m.State)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	t.Parallel()

	if !StateCancelled.Terminal() || !StateExpired.Terminal() {
		t.Fatal("cancelled and expired must be terminal")
	}
	for _, s := range []State{StateDraft, StateProposed, StateConfirming, StateConfirmed, StateConflicted, StateRescheduled} {
		if s.Terminal() {
			t.Fatalf("state %s must not be terminal", s)
		}
	}
	if !StateConfirmed.Committed() || !StateRescheduled.Committed() {
		t.Fatal("confirmed and rescheduled carry a committed slot")
	}
}

func TestReleaseSlot_RetainsSlotInHistory(t *testing.T) {
	t.Parallel()

	m := draftMeeting(t)
	slot := engine.CandidateSlot{
		Start: referenceTime(t).Add(2 * time.Hour),
		End:   referenceTime(t).Add(2*time.Hour + 30*time.Minute),
	}
	m.Commit(slot, []Booking{{PartyID: "broker", Provider: "memory", CalendarID: "cal-1", ProviderRef: "ref-1"}})

	m.ReleaseSlot(referenceTime(t).Add(3*time.Hour), "conflict detected")

	if m.CommittedSlot != nil {
		t.Fatal("expected committed slot cleared")
	}
	last := m.History[len(m.History)-1]
	if last.From != last.To {
		t.Fatalf("expected a note entry, got transition %+v", last)
	}
	if want := slot.Start.Format(time.RFC3339); !strings.Contains(last.Cause, want) {
		t.Fatalf("expected released slot retained in history, got %q", last.Cause)
	}
}

func TestAllCandidatesPassed(t *testing.T) {
	t.Parallel()

	m := draftMeeting(t)
	now := referenceTime(t)

	if m.AllCandidatesPassed(now) {
		t.Fatal("meeting without candidates must not expire")
	}

	m.Candidates = []engine.CandidateSlot{
		{Start: now.Add(-2 * time.Hour), End: now.Add(-90 * time.Minute)},
		{Start: now.Add(-time.Hour), End: now.Add(-30 * time.Minute)},
	}
	if !m.AllCandidatesPassed(now) {
		t.Fatal("expected all-passed candidates to expire")
	}

	m.Candidates = append(m.Candidates, engine.CandidateSlot{Start: now.Add(time.Hour), End: now.Add(90 * time.Minute)})
	if m.AllCandidatesPassed(now) {
		t.Fatal("future candidate must prevent expiry")
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	m := draftMeeting(t)
	m.Candidates = []engine.CandidateSlot{{Start: referenceTime(t), End: referenceTime(t).Add(30 * time.Minute)}}
	slot := m.Candidates[0]
	m.Commit(slot, []Booking{{PartyID: "broker"}})

	clone := m.Clone()
	clone.Parties[0] = "mutated"
	clone.Candidates[0].Index = 99
	clone.CommittedSlot.Index = 99
	clone.History[0].Cause = "mutated"

	if m.Parties[0] == "mutated" || m.Candidates[0].Index == 99 || m.CommittedSlot.Index == 99 || m.History[0].Cause == "mutated" {
		t.Fatal("clone shares memory with original")
	}
}
