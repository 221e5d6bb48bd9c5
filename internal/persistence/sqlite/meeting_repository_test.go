package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func sampleMeeting(t *testing.T, id string) meeting.Meeting {
	t.Helper()
	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	m := meeting.New(id, []string{"broker", "client"}, engine.ConstraintSet{
		Duration:      30 * time.Minute,
		EarliestStart: now,
		LatestStart:   now.Add(8 * time.Hour),
		BufferBefore:  10 * time.Minute,
		BlackoutDates: []time.Time{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}, now)
	return m
}

func TestStore_CreateAndGetMeeting(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	m := sampleMeeting(t, "meeting-1")

	if err := store.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}

	got, err := store.GetMeeting(ctx, "meeting-1")
	if err != nil {
		t.Fatalf("GetMeeting returned error: %v", err)
	}
	if got.State != meeting.StateDraft {
		t.Fatalf("expected draft state, got %s", got.State)
	}
	if len(got.Parties) != 2 || got.Parties[0] != "broker" {
		t.Fatalf("unexpected parties: %v", got.Parties)
	}
	if got.Constraints.Duration != 30*time.Minute {
		t.Fatalf("constraints not round-tripped: %+v", got.Constraints)
	}
	if len(got.History) != 1 || got.History[0].Cause != "meeting requested" {
		t.Fatalf("history not round-tripped: %+v", got.History)
	}
}

func TestStore_CreateMeeting_DuplicateID(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	if err := store.CreateMeeting(ctx, sampleMeeting(t, "meeting-1")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := store.CreateMeeting(ctx, sampleMeeting(t, "meeting-1")); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
	}
}

func TestStore_GetMeeting_NotFound(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	if _, err := store.GetMeeting(context.Background(), "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected persistence.ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateMeeting_PersistsLifecycle(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	m := sampleMeeting(t, "meeting-1")
	if err := store.CreateMeeting(ctx, m); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := m.CreatedAt.Add(time.Minute)
	m.Candidates = []engine.CandidateSlot{
		{Start: now.Add(2 * time.Hour), End: now.Add(2*time.Hour + 30*time.Minute), Index: 0},
	}
	if err := m.TransitionTo(meeting.StateProposed, now, "1 candidate offered"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := m.TransitionTo(meeting.StateConfirming, now.Add(time.Minute), "slot 0 selected"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	m.Commit(m.Candidates[0], []meeting.Booking{
		{PartyID: "broker", Provider: "memory", CalendarID: "cal-broker", ProviderRef: "ref-1"},
		{PartyID: "client", Provider: "memory", CalendarID: "cal-client", ProviderRef: "ref-2"},
	})
	if err := m.TransitionTo(meeting.StateConfirmed, now.Add(2*time.Minute), "booked on all calendars"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if err := store.UpdateMeeting(ctx, m); err != nil {
		t.Fatalf("UpdateMeeting returned error: %v", err)
	}

	got, err := store.GetMeeting(ctx, "meeting-1")
	if err != nil {
		t.Fatalf("GetMeeting returned error: %v", err)
	}
	if got.State != meeting.StateConfirmed {
		t.Fatalf("expected confirmed, got %s", got.State)
	}
	if got.CommittedSlot == nil || !got.CommittedSlot.Start.Equal(m.Candidates[0].Start) {
		t.Fatalf("committed slot not round-tripped: %+v", got.CommittedSlot)
	}
	if len(got.Bookings) != 2 || got.Bookings[1].ProviderRef != "ref-2" {
		t.Fatalf("bookings not round-tripped: %+v", got.Bookings)
	}
	if len(got.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(got.History))
	}
}

func TestStore_UpdateMeeting_NotFound(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	if err := store.UpdateMeeting(context.Background(), sampleMeeting(t, "missing")); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected persistence.ErrNotFound, got %v", err)
	}
}

func TestStore_ListMeetings_Filters(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()

	first := sampleMeeting(t, "meeting-1")
	if err := store.CreateMeeting(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	second := meeting.New("meeting-2", []string{"broker", "vendor"}, first.Constraints, first.CreatedAt.Add(time.Second))
	if err := second.TransitionTo(meeting.StateProposed, second.CreatedAt, "candidates offered"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := store.CreateMeeting(ctx, second); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byState, err := store.ListMeetings(ctx, persistence.MeetingFilter{States: []meeting.State{meeting.StateProposed}})
	if err != nil {
		t.Fatalf("ListMeetings returned error: %v", err)
	}
	if len(byState) != 1 || byState[0].ID != "meeting-2" {
		t.Fatalf("unexpected state filter result: %+v", byState)
	}

	byParty, err := store.ListMeetings(ctx, persistence.MeetingFilter{PartyID: "vendor"})
	if err != nil {
		t.Fatalf("ListMeetings returned error: %v", err)
	}
	if len(byParty) != 1 || byParty[0].ID != "meeting-2" {
		t.Fatalf("unexpected party filter result: %+v", byParty)
	}

	all, err := store.ListMeetings(ctx, persistence.MeetingFilter{})
	if err != nil {
		t.Fatalf("ListMeetings returned error: %v", err)
	}
	if len(all) != 2 || all[0].ID != "meeting-1" {
		t.Fatalf("expected creation order, got %+v", all)
	}
}
