package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/example/meeting-broker/internal/provider"
	"github.com/example/meeting-broker/internal/timeline"
)

// PartyProfile is the directory record for one schedulable party: its
// working-hour rule and the calendars that hold its busy time.
type PartyProfile struct {
	ID        string
	Hours     timeline.WorkingHours
	Calendars []provider.CalendarRef
}

// PartyDirectory resolves party ids to profiles. The directory is the only
// source of working hours and calendar locations; meetings reference parties
// by id alone.
type PartyDirectory interface {
	Profile(ctx context.Context, partyID string) (PartyProfile, error)
}

// StaticDirectory serves profiles from an in-memory map.
type StaticDirectory struct {
	profiles map[string]PartyProfile
}

// NewStaticDirectory builds a directory from the given profiles.
func NewStaticDirectory(profiles []PartyProfile) *StaticDirectory {
	indexed := make(map[string]PartyProfile, len(profiles))
	for _, profile := range profiles {
		indexed[profile.ID] = profile
	}
	return &StaticDirectory{profiles: indexed}
}

// Profile implements PartyDirectory.
func (d *StaticDirectory) Profile(_ context.Context, partyID string) (PartyProfile, error) {
	profile, ok := d.profiles[partyID]
	if !ok {
		return PartyProfile{}, fmt.Errorf("party %s: %w", partyID, ErrUnknownParty)
	}
	return profile, nil
}

type partyFile struct {
	Parties []partyRecord `json:"parties"`
}

type partyRecord struct {
	ID           string             `json:"id"`
	WorkingHours workingHoursRecord `json:"working_hours"`
	Calendars    []calendarRecord   `json:"calendars"`
}

type workingHoursRecord struct {
	Weekdays    []int  `json:"weekdays,omitempty"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Timezone    string `json:"timezone,omitempty"`
}

type calendarRecord struct {
	Provider   string `json:"provider"`
	CalendarID string `json:"calendar_id"`
}

// LoadDirectory reads party profiles from a JSON file. Timezone names resolve
// through the IANA database; an unknown zone fails the load rather than
// silently falling back to UTC.
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}

	var file partyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("directory: parse %s: %w", path, err)
	}

	profiles := make([]PartyProfile, 0, len(file.Parties))
	for i, record := range file.Parties {
		if record.ID == "" {
			return nil, fmt.Errorf("directory: party %d: id is required", i)
		}
		if len(record.Calendars) == 0 {
			return nil, fmt.Errorf("directory: party %s: at least one calendar is required", record.ID)
		}

		hours := timeline.WorkingHours{
			StartMinute: record.WorkingHours.StartMinute,
			EndMinute:   record.WorkingHours.EndMinute,
		}
		for _, day := range record.WorkingHours.Weekdays {
			hours.Weekdays = append(hours.Weekdays, time.Weekday(day))
		}
		if record.WorkingHours.Timezone != "" {
			loc, err := time.LoadLocation(record.WorkingHours.Timezone)
			if err != nil {
				return nil, fmt.Errorf("directory: party %s: timezone %s: %w", record.ID, record.WorkingHours.Timezone, err)
			}
			hours.Location = loc
		}
		if err := hours.Validate(); err != nil {
			return nil, fmt.Errorf("directory: party %s: %w", record.ID, err)
		}

		calendars := make([]provider.CalendarRef, 0, len(record.Calendars))
		for _, cal := range record.Calendars {
			if cal.Provider == "" || cal.CalendarID == "" {
				return nil, fmt.Errorf("directory: party %s: calendar provider and id are required", record.ID)
			}
			calendars = append(calendars, provider.CalendarRef{Provider: cal.Provider, CalendarID: cal.CalendarID})
		}

		profiles = append(profiles, PartyProfile{ID: record.ID, Hours: hours, Calendars: calendars})
	}

	return NewStaticDirectory(profiles), nil
}
