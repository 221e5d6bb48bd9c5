package engine

import (
	"testing"
	"time"
)

func slotAt(t *testing.T, hour, min, index int) CandidateSlot {
	t.Helper()
	start := time.Date(2024, 3, 14, hour, min, 0, 0, time.UTC)
	return CandidateSlot{Start: start, End: start.Add(30 * time.Minute), Index: index}
}

func TestRank_SoonestFirst(t *testing.T) {
	t.Parallel()

	slots := []CandidateSlot{
		slotAt(t, 14, 0, 0),
		slotAt(t, 9, 0, 1),
		slotAt(t, 11, 30, 2),
	}

	ranked := Rank(slots)
	if !ranked[0].Start.Equal(slots[1].Start) {
		t.Fatalf("expected 09:00 first, got %s", ranked[0].Start)
	}
	if !ranked[2].Start.Equal(slots[0].Start) {
		t.Fatalf("expected 14:00 last, got %s", ranked[2].Start)
	}
}

func TestRank_FewerSoftViolationsBreakTies(t *testing.T) {
	t.Parallel()

	violating := slotAt(t, 10, 0, 0)
	violating.ViolatedSoft = []string{"outside_preferred_window"}
	clean := slotAt(t, 10, 0, 1)

	ranked := Rank([]CandidateSlot{violating, clean})
	if ranked[0].Index != 1 {
		t.Fatalf("expected clean slot ranked first, got index %d", ranked[0].Index)
	}
}

func TestRank_MiddayProximityBreaksRemainingTies(t *testing.T) {
	t.Parallel()

	early := slotAt(t, 10, 0, 0)
	early.Score = 150
	midday := slotAt(t, 10, 0, 1)
	midday.Score = 30

	ranked := Rank([]CandidateSlot{early, midday})
	if ranked[0].Index != 1 {
		t.Fatalf("expected lower midday offset ranked first, got index %d", ranked[0].Index)
	}
}

func TestRank_StableIndexIsFinalTiebreak(t *testing.T) {
	t.Parallel()

	a := slotAt(t, 10, 0, 3)
	b := slotAt(t, 10, 0, 1)

	ranked := Rank([]CandidateSlot{a, b})
	if ranked[0].Index != 1 || ranked[1].Index != 3 {
		t.Fatalf("expected stable index order, got %d then %d", ranked[0].Index, ranked[1].Index)
	}
}

func TestRank_DoesNotMutateInputOrDiscard(t *testing.T) {
	t.Parallel()

	slots := []CandidateSlot{
		slotAt(t, 14, 0, 0),
		slotAt(t, 9, 0, 1),
	}

	ranked := Rank(slots)
	if len(ranked) != len(slots) {
		t.Fatalf("ranking discarded candidates: %d of %d", len(ranked), len(slots))
	}
	if !slots[0].Start.Equal(time.Date(2024, 3, 14, 14, 0, 0, 0, time.UTC)) {
		t.Fatal("ranking mutated its input slice")
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()

	ranked := []CandidateSlot{slotAt(t, 9, 0, 0), slotAt(t, 10, 0, 1), slotAt(t, 11, 0, 2)}

	if got := TopK(ranked, 2); len(got) != 2 || got[1].Index != 1 {
		t.Fatalf("unexpected TopK(2) result: %+v", got)
	}
	if got := TopK(ranked, 10); len(got) != 3 {
		t.Fatalf("expected clamp to available slots, got %d", len(got))
	}
}
