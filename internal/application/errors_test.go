package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "not found", err: fmt.Errorf("meeting x: %w", ErrNotFound), want: "not_found"},
		{name: "persistence not found", err: persistence.ErrNotFound, want: "not_found"},
		{name: "meeting closed", err: ErrMeetingClosed, want: "meeting_closed"},
		{name: "unknown party", err: ErrUnknownParty, want: "unknown_party"},
		{name: "unknown provider", err: ErrUnknownProvider, want: "unknown_provider"},
		{name: "invalid token", err: ErrInvalidToken, want: "invalid_token"},
		{name: "duplicate", err: persistence.ErrDuplicate, want: "already_exists"},
		{name: "validation", err: &ValidationError{FieldErrors: map[string]string{"duration": "must be positive"}}, want: "validation"},
		{name: "constraint", err: &engine.ConstraintError{Reasons: []string{"duration must be positive"}}, want: "constraint"},
		{name: "conflict", err: &ConflictError{MeetingID: "m1"}, want: "conflict"},
		{name: "provider", err: &ProviderError{Provider: "google", Op: "read_busy", Err: errors.New("boom")}, want: "provider"},
		{name: "rollback", err: &RollbackError{MeetingID: "m1", Err: errors.New("boom")}, want: "rollback"},
		{name: "invalid transition", err: &meeting.InvalidTransitionError{MeetingID: "m1", From: meeting.StateDraft, To: meeting.StateConfirmed}, want: "invalid_transition"},
		{name: "unexpected", err: errors.New("boom"), want: "unexpected"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tc.err); got != tc.want {
				t.Fatalf("ErrorKind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRollbackErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := &ProviderError{Provider: "caldav", Op: "create_block", Err: errors.New("boom")}
	err := &RollbackError{MeetingID: "m1", Err: cause}

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatal("expected RollbackError to unwrap to the provider failure")
	}
}
