package application

import (
	"testing"
	"time"

	"github.com/example/meeting-broker/internal/engine"
)

func TestCandidateCache_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	cache := newCandidateCache(30*time.Second, 4, func() time.Time { return now })

	slots := []engine.CandidateSlot{{Start: now.Add(time.Hour), End: now.Add(90 * time.Minute)}}
	cache.Store("meeting-1", slots)

	got, ok := cache.Get("meeting-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 1 || !got[0].Start.Equal(slots[0].Start) {
		t.Fatalf("unexpected cached slots: %+v", got)
	}

	// The cached copy is isolated from caller mutation.
	got[0].Start = now
	again, _ := cache.Get("meeting-1")
	if !again[0].Start.Equal(slots[0].Start) {
		t.Fatal("cache entry was mutated through a returned slice")
	}
}

func TestCandidateCache_ExpiresByTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	cache := newCandidateCache(30*time.Second, 4, func() time.Time { return now })
	cache.Store("meeting-1", []engine.CandidateSlot{{Start: now, End: now.Add(time.Hour)}})

	now = now.Add(time.Minute)
	if _, ok := cache.Get("meeting-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCandidateCache_Invalidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	cache := newCandidateCache(time.Minute, 4, func() time.Time { return now })
	cache.Store("meeting-1", []engine.CandidateSlot{{Start: now, End: now.Add(time.Hour)}})

	cache.Invalidate("meeting-1")
	if _, ok := cache.Get("meeting-1"); ok {
		t.Fatal("expected entry to be gone after invalidation")
	}
}

func TestCandidateCache_EvictsAtCapacity(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	cache := newCandidateCache(time.Minute, 2, func() time.Time { return now })
	cache.Store("meeting-1", nil)
	cache.Store("meeting-2", nil)
	cache.Store("meeting-3", nil)

	cache.mu.RLock()
	defer cache.mu.RUnlock()
	if len(cache.entries) > 2 {
		t.Fatalf("expected at most 2 entries, got %d", len(cache.entries))
	}
}
