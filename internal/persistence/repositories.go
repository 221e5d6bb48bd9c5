package persistence

import (
	"context"
	"time"

	"github.com/example/meeting-broker/internal/meeting"
)

// MeetingFilter narrows meeting queries.
type MeetingFilter struct {
	States      []meeting.State
	PartyID     string
	StartsAfter *time.Time
}

// MeetingRepository stores meeting records. The Meeting is the only entity
// persisted across process restarts; timelines and candidate computations are
// recreated from external calendar reads each pass.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, m meeting.Meeting) error
	GetMeeting(ctx context.Context, id string) (meeting.Meeting, error)
	UpdateMeeting(ctx context.Context, m meeting.Meeting) error
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]meeting.Meeting, error)
}

// MatchesFilter reports whether a meeting satisfies the filter. Shared by
// store implementations so filtering semantics stay uniform.
func MatchesFilter(m meeting.Meeting, filter MeetingFilter) bool {
	if len(filter.States) > 0 {
		found := false
		for _, state := range filter.States {
			if m.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.PartyID != "" {
		found := false
		for _, party := range m.Parties {
			if party == filter.PartyID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.StartsAfter != nil {
		if m.CommittedSlot == nil || !m.CommittedSlot.Start.After(*filter.StartsAfter) {
			return false
		}
	}

	return true
}
