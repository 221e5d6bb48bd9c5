package application_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/meeting-broker/internal/application"
)

func writePartiesFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parties.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write parties file: %v", err)
	}
	return path
}

func TestLoadDirectory(t *testing.T) {
	t.Parallel()

	path := writePartiesFile(t, `{
		"parties": [
			{
				"id": "broker",
				"working_hours": {"start_minute": 480, "end_minute": 1080, "timezone": "America/New_York", "weekdays": [1, 2, 3, 4, 5]},
				"calendars": [
					{"provider": "google", "calendar_id": "broker@example.com"},
					{"provider": "caldav", "calendar_id": "/calendars/broker/"}
				]
			},
			{
				"id": "client",
				"working_hours": {"start_minute": 540, "end_minute": 1020},
				"calendars": [{"provider": "caldav", "calendar_id": "/calendars/client/"}]
			}
		]
	}`)

	directory, err := application.LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory returned error: %v", err)
	}

	broker, err := directory.Profile(context.Background(), "broker")
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if len(broker.Calendars) != 2 || broker.Calendars[0].Provider != "google" {
		t.Fatalf("unexpected calendars: %+v", broker.Calendars)
	}
	if broker.Hours.Location == nil || broker.Hours.Location.String() != "America/New_York" {
		t.Fatalf("unexpected location: %v", broker.Hours.Location)
	}
	if len(broker.Hours.Weekdays) != 5 || broker.Hours.Weekdays[0] != time.Monday {
		t.Fatalf("unexpected weekdays: %v", broker.Hours.Weekdays)
	}

	client, err := directory.Profile(context.Background(), "client")
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if client.Hours.Location != nil {
		t.Fatalf("expected UTC default, got %v", client.Hours.Location)
	}

	if _, err := directory.Profile(context.Background(), "stranger"); !errors.Is(err, application.ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
}

func TestLoadDirectory_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
	}{
		{
			name:     "missing id",
			contents: `{"parties": [{"working_hours": {"start_minute": 480, "end_minute": 1080}, "calendars": [{"provider": "google", "calendar_id": "x"}]}]}`,
		},
		{
			name:     "no calendars",
			contents: `{"parties": [{"id": "broker", "working_hours": {"start_minute": 480, "end_minute": 1080}, "calendars": []}]}`,
		},
		{
			name:     "unknown timezone",
			contents: `{"parties": [{"id": "broker", "working_hours": {"start_minute": 480, "end_minute": 1080, "timezone": "Mars/Olympus"}, "calendars": [{"provider": "google", "calendar_id": "x"}]}]}`,
		},
		{
			name:     "empty working window",
			contents: `{"parties": [{"id": "broker", "working_hours": {"start_minute": 1080, "end_minute": 480}, "calendars": [{"provider": "google", "calendar_id": "x"}]}]}`,
		},
		{
			name:     "not json",
			contents: `not json`,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writePartiesFile(t, tc.contents)
			if _, err := application.LoadDirectory(path); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}
