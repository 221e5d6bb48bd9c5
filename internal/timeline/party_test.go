package timeline

import (
	"errors"
	"testing"
	"time"
)

func TestWorkingHours_Validate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		hours   WorkingHours
		wantErr bool
	}{
		"standard":       {hours: WorkingHours{StartMinute: 9 * 60, EndMinute: 17 * 60}},
		"full day":       {hours: WorkingHours{StartMinute: 0, EndMinute: 24 * 60}},
		"empty window":   {hours: WorkingHours{StartMinute: 9 * 60, EndMinute: 9 * 60}, wantErr: true},
		"inverted":       {hours: WorkingHours{StartMinute: 17 * 60, EndMinute: 9 * 60}, wantErr: true},
		"past midnight":  {hours: WorkingHours{StartMinute: 9 * 60, EndMinute: 25 * 60}, wantErr: true},
		"negative start": {hours: WorkingHours{StartMinute: -30, EndMinute: 9 * 60}, wantErr: true},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.hours.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidWorkingHours) {
				t.Fatalf("expected ErrInvalidWorkingHours, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWindowsBetween_SkipsNonWorkingDays(t *testing.T) {
	t.Parallel()

	hours := WorkingHours{StartMinute: 9 * 60, EndMinute: 17 * 60} // default Mon-Fri

	// 2024-03-15 is a Friday; the range covers Friday through Monday.
	from := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 19, 0, 0, 0, 0, time.UTC)

	windows := hours.WindowsBetween(from, to)
	if len(windows) != 2 {
		t.Fatalf("expected Friday and Monday windows, got %d: %+v", len(windows), windows)
	}
	if windows[0].Start.Weekday() != time.Friday || windows[1].Start.Weekday() != time.Monday {
		t.Fatalf("unexpected weekdays: %v, %v", windows[0].Start.Weekday(), windows[1].Start.Weekday())
	}
}

func TestWindowsBetween_DSTTransitionShiftsUTCWindow(t *testing.T) {
	t.Parallel()

	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("failed to load America/New_York: %v", err)
	}

	hours := WorkingHours{
		Weekdays:    []time.Weekday{time.Friday, time.Monday},
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		Location:    newYork,
	}

	// US DST starts Sunday 2024-03-10. Friday 2024-03-08 is EST (UTC-5),
	// Monday 2024-03-11 is EDT (UTC-4).
	from := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

	windows := hours.WindowsBetween(from, to)
	if len(windows) != 2 {
		t.Fatalf("expected two windows, got %d: %+v", len(windows), windows)
	}

	wantFriday := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)
	wantMonday := time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC)
	if !windows[0].Start.Equal(wantFriday) {
		t.Fatalf("expected Friday window to open at %s, got %s", wantFriday, windows[0].Start)
	}
	if !windows[1].Start.Equal(wantMonday) {
		t.Fatalf("expected Monday window to open at %s, got %s", wantMonday, windows[1].Start)
	}
}

func TestPartyTimeline_FreeDuringHonorsBuffers(t *testing.T) {
	t.Parallel()

	tl, err := NewPartyTimeline("party-1", []BusyInterval{
		{Start: utc(t, 10, 0), End: utc(t, 11, 0), Source: "cal-a"},
	}, WorkingHours{StartMinute: 8 * 60, EndMinute: 18 * 60})
	if err != nil {
		t.Fatalf("NewPartyTimeline returned error: %v", err)
	}

	if !tl.FreeDuring(utc(t, 11, 0), utc(t, 11, 30), 0, 0) {
		t.Fatal("expected slot adjacent to busy interval to be free without buffers")
	}
	if tl.FreeDuring(utc(t, 11, 0), utc(t, 11, 30), 15*time.Minute, 0) {
		t.Fatal("expected buffer-before to collide with preceding busy interval")
	}
	if tl.FreeDuring(utc(t, 9, 30), utc(t, 9, 45), 0, 30*time.Minute) {
		t.Fatal("expected buffer-after to collide with following busy interval")
	}
}

func TestPartyTimeline_WithinWorkingDay(t *testing.T) {
	t.Parallel()

	tl, err := NewPartyTimeline("party-1", nil, WorkingHours{StartMinute: 9 * 60, EndMinute: 17 * 60})
	if err != nil {
		t.Fatalf("NewPartyTimeline returned error: %v", err)
	}

	if !tl.WithinWorkingDay(utc(t, 9, 0), utc(t, 10, 0)) {
		t.Fatal("expected in-window slot to qualify")
	}
	if tl.WithinWorkingDay(utc(t, 16, 30), utc(t, 17, 30)) {
		t.Fatal("expected slot crossing the window end to be rejected")
	}
	// 2024-03-16 is a Saturday.
	saturday := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)
	if tl.WithinWorkingDay(saturday, saturday.Add(time.Hour)) {
		t.Fatal("expected weekend slot to be rejected")
	}
}
