package testfixtures

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Parallel()

	t.Run("zero start opens at the reference working day", func(t *testing.T) {
		t.Parallel()
		clock := NewClock(time.Time{})
		if !clock.Now().Equal(ReferenceTime()) {
			t.Fatalf("expected %s, got %s", ReferenceTime(), clock.Now())
		}
	})

	t.Run("advance moves forward and returns the new time", func(t *testing.T) {
		t.Parallel()
		clock := NewClock(time.Time{})
		updated := clock.Advance(90 * time.Minute)
		if want := ReferenceTime().Add(90 * time.Minute); !updated.Equal(want) || !clock.Now().Equal(want) {
			t.Fatalf("expected %s, got %s (Now %s)", want, updated, clock.Now())
		}
	})

	t.Run("advance to never runs backwards", func(t *testing.T) {
		t.Parallel()
		clock := NewClock(time.Time{})
		slotStart := ReferenceTime().Add(2 * time.Hour)
		if updated := clock.AdvanceTo(slotStart); !updated.Equal(slotStart) {
			t.Fatalf("expected %s, got %s", slotStart, updated)
		}
		if updated := clock.AdvanceTo(ReferenceTime()); !updated.Equal(slotStart) {
			t.Fatalf("expected clock to hold %s, got %s", slotStart, updated)
		}
	})
}

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	t.Run("default prefix mints meeting ids", func(t *testing.T) {
		t.Parallel()
		gen := NewIDGenerator("")
		if got := gen.Next(); got != "meeting-1" {
			t.Fatalf("expected meeting-1, got %s", got)
		}
		if got := gen.Next(); got != "meeting-2" {
			t.Fatalf("expected meeting-2, got %s", got)
		}
	})

	t.Run("custom prefix is kept", func(t *testing.T) {
		t.Parallel()
		gen := NewIDGenerator("booking")
		if got := gen.Next(); got != "booking-1" {
			t.Fatalf("expected booking-1, got %s", got)
		}
	})
}
