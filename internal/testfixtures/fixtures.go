// Package testfixtures provides deterministic clocks, id generators, in-memory
// backends, and canned records shared by tests across the module.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/meeting-broker/internal/application"
	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/provider"
	"github.com/example/meeting-broker/internal/timeline"
)

var (
	partyCounter   uint64
	meetingCounter uint64
)

// referenceTime is a Thursday morning, so the default eight-hour search range
// stays inside one working week.
var referenceTime = time.Date(2024, time.March, 14, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// BusinessHours returns a Monday-to-Friday 08:00-18:00 rule in the given
// location. Nil means UTC.
func BusinessHours(loc *time.Location) timeline.WorkingHours {
	return timeline.WorkingHours{StartMinute: 8 * 60, EndMinute: 18 * 60, Location: loc}
}

// ----------------------------- Party fixtures -----------------------------

// PartyFixture represents a deterministic directory record.
type PartyFixture struct {
	ID        string
	Hours     timeline.WorkingHours
	Calendars []provider.CalendarRef
}

// PartyOption configures the generated party fixture.
type PartyOption func(*PartyFixture)

// NewPartyFixture returns a deterministic party fixture with optional
// overrides. The default party works UTC business hours and owns one calendar
// on the "memory" provider.
func NewPartyFixture(opts ...PartyOption) PartyFixture {
	idx := atomic.AddUint64(&partyCounter, 1)
	id := fmt.Sprintf("party-%03d", idx)
	fixture := PartyFixture{
		ID:    id,
		Hours: BusinessHours(nil),
		Calendars: []provider.CalendarRef{
			{Provider: "memory", CalendarID: "cal-" + id},
		},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithPartyID overrides the generated party id. The default calendar id
// follows the override.
func WithPartyID(id string) PartyOption {
	return func(f *PartyFixture) {
		f.ID = id
		f.Calendars = []provider.CalendarRef{{Provider: "memory", CalendarID: "cal-" + id}}
	}
}

// WithPartyHours overrides the working-hour rule.
func WithPartyHours(hours timeline.WorkingHours) PartyOption {
	return func(f *PartyFixture) {
		f.Hours = hours
	}
}

// WithPartyCalendars overrides the calendar references.
func WithPartyCalendars(refs ...provider.CalendarRef) PartyOption {
	return func(f *PartyFixture) {
		f.Calendars = append([]provider.CalendarRef(nil), refs...)
	}
}

// Profile returns the fixture as an application.PartyProfile.
func (f PartyFixture) Profile() application.PartyProfile {
	return application.PartyProfile{
		ID:        f.ID,
		Hours:     f.Hours,
		Calendars: append([]provider.CalendarRef(nil), f.Calendars...),
	}
}

// CalendarID returns the party's primary calendar id.
func (f PartyFixture) CalendarID() string {
	return f.Calendars[0].CalendarID
}

// Directory builds a static directory from party fixtures.
func Directory(parties ...PartyFixture) *application.StaticDirectory {
	profiles := make([]application.PartyProfile, 0, len(parties))
	for _, party := range parties {
		profiles = append(profiles, party.Profile())
	}
	return application.NewStaticDirectory(profiles)
}

// ---------------------------- Meeting fixtures ----------------------------

// MeetingFixture represents a deterministic meeting request.
type MeetingFixture struct {
	ID          string
	Parties     []string
	Constraints engine.ConstraintSet
	CreatedAt   time.Time
}

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns a deterministic meeting fixture: a 30 minute
// meeting searched over the reference working day.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	fixture := MeetingFixture{
		ID:      fmt.Sprintf("meeting-%03d", idx),
		Parties: []string{"party-a", "party-b"},
		Constraints: engine.ConstraintSet{
			Duration:      30 * time.Minute,
			EarliestStart: referenceTime.Add(time.Hour),
			LatestStart:   referenceTime.Add(9 * time.Hour),
		},
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingID overrides the meeting id.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ID = id
	}
}

// WithMeetingParties overrides the party list.
func WithMeetingParties(parties ...string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Parties = append([]string(nil), parties...)
	}
}

// WithMeetingConstraints overrides the constraint set.
func WithMeetingConstraints(constraints engine.ConstraintSet) MeetingOption {
	return func(f *MeetingFixture) {
		f.Constraints = constraints
	}
}

// Meeting materialises the fixture as a Draft meeting.
func (f MeetingFixture) Meeting() meeting.Meeting {
	return meeting.New(f.ID, f.Parties, f.Constraints, f.CreatedAt)
}

// Params returns the fixture as request parameters.
func (f MeetingFixture) Params() application.RequestMeetingParams {
	return application.RequestMeetingParams{Parties: f.Parties, Constraints: f.Constraints}
}
