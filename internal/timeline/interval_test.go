package timeline

import (
	"errors"
	"testing"
	"time"
)

func utc(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2024, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestNormalize_SortsAndMergesOverlaps(t *testing.T) {
	t.Parallel()

	raw := []BusyInterval{
		{Start: utc(t, 13, 0), End: utc(t, 14, 0), Source: "cal-b"},
		{Start: utc(t, 9, 0), End: utc(t, 10, 30), Source: "cal-a"},
		{Start: utc(t, 10, 0), End: utc(t, 11, 0), Source: "cal-b"},
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	want := []BusyInterval{
		{Start: utc(t, 9, 0), End: utc(t, 11, 0), Source: "cal-a"},
		{Start: utc(t, 13, 0), End: utc(t, 14, 0), Source: "cal-b"},
	}
	assertIntervalsEqual(t, got, want)
}

func TestNormalize_MergesTouchingIntervals(t *testing.T) {
	t.Parallel()

	raw := []BusyInterval{
		{Start: utc(t, 9, 0), End: utc(t, 10, 0), Source: "cal-a"},
		{Start: utc(t, 10, 0), End: utc(t, 11, 0), Source: "cal-a"},
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected a single merged interval, got %d", len(got))
	}
	if !got[0].Start.Equal(utc(t, 9, 0)) || !got[0].End.Equal(utc(t, 11, 0)) {
		t.Fatalf("unexpected merged interval: %+v", got[0])
	}
}

func TestNormalize_ConvertsMixedZonesToUTC(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load Asia/Tokyo: %v", err)
	}

	raw := []BusyInterval{
		// 18:00-19:00 JST is 09:00-10:00 UTC.
		{Start: time.Date(2024, 3, 14, 18, 0, 0, 0, tokyo), End: time.Date(2024, 3, 14, 19, 0, 0, 0, tokyo), Source: "cal-jp"},
		{Start: utc(t, 9, 30), End: utc(t, 10, 30), Source: "cal-utc"},
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected overlapping zones to merge into one interval, got %d", len(got))
	}
	if !got[0].Start.Equal(utc(t, 9, 0)) || !got[0].End.Equal(utc(t, 10, 30)) {
		t.Fatalf("unexpected merged interval: %+v", got[0])
	}
	if got[0].Start.Location() != time.UTC {
		t.Fatalf("expected UTC output, got %v", got[0].Start.Location())
	}
}

func TestNormalize_RejectsMalformedInterval(t *testing.T) {
	t.Parallel()

	cases := map[string]BusyInterval{
		"inverted": {Start: utc(t, 11, 0), End: utc(t, 10, 0), Source: "cal-a"},
		"empty":    {Start: utc(t, 11, 0), End: utc(t, 11, 0), Source: "cal-a"},
	}

	for name, interval := range cases {
		interval := interval
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := Normalize([]BusyInterval{interval})
			if !errors.Is(err, ErrMalformedInterval) {
				t.Fatalf("expected ErrMalformedInterval, got %v", err)
			}
		})
	}
}

func TestNormalize_OutputCoversInputUnion(t *testing.T) {
	t.Parallel()

	raw := []BusyInterval{
		{Start: utc(t, 9, 0), End: utc(t, 9, 45), Source: "a"},
		{Start: utc(t, 9, 30), End: utc(t, 10, 15), Source: "b"},
		{Start: utc(t, 12, 0), End: utc(t, 13, 0), Source: "a"},
		{Start: utc(t, 12, 30), End: utc(t, 12, 45), Source: "c"},
	}

	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	for i := 1; i < len(got); i++ {
		if got[i].Start.Before(got[i-1].End) {
			t.Fatalf("output intervals overlap: %+v then %+v", got[i-1], got[i])
		}
	}

	// Every input instant must be covered by some output interval.
	for _, in := range raw {
		covered := false
		for _, out := range got {
			if !in.Start.Before(out.Start) && !in.End.After(out.End) {
				covered = true
				break
			}
		}
		if !covered {
			t.Fatalf("input interval %+v not covered by normalized output", in)
		}
	}
}

func TestExcludeSource_FiltersOwnBlock(t *testing.T) {
	t.Parallel()

	intervals := []BusyInterval{
		{Start: utc(t, 9, 0), End: utc(t, 10, 0), Source: "meeting-1"},
		{Start: utc(t, 11, 0), End: utc(t, 12, 0), Source: "cal-a"},
	}

	got := ExcludeSource(intervals, "meeting-1")
	if len(got) != 1 || got[0].Source != "cal-a" {
		t.Fatalf("expected only cal-a interval, got %+v", got)
	}
}

func assertIntervalsEqual(t *testing.T, got, want []BusyInterval) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d intervals, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("interval %d: expected %s-%s, got %s-%s", i,
				want[i].Start.Format(time.RFC3339), want[i].End.Format(time.RFC3339),
				got[i].Start.Format(time.RFC3339), got[i].End.Format(time.RFC3339))
		}
	}
}
