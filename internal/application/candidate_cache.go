package application

import (
	"sync"
	"time"

	"github.com/example/meeting-broker/internal/engine"
)

// candidateCache stores recently computed candidate lists so repeated listing
// of the same meeting does not re-read every party calendar while nothing has
// changed. Any mutation of a meeting invalidates its entry.
type candidateCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]candidateCacheEntry
}

type candidateCacheEntry struct {
	slots     []engine.CandidateSlot
	expiresAt time.Time
}

func newCandidateCache(ttl time.Duration, maxEntries int, now func() time.Time) *candidateCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &candidateCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]candidateCacheEntry),
	}
}

func (c *candidateCache) Get(meetingID string) ([]engine.CandidateSlot, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[meetingID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, meetingID)
		c.mu.Unlock()
		return nil, false
	}
	return cloneSlots(entry.slots), true
}

func (c *candidateCache) Store(meetingID string, slots []engine.CandidateSlot) {
	if c == nil {
		return
	}
	cloned := cloneSlots(slots)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[meetingID] = candidateCacheEntry{slots: cloned, expiresAt: expiry}
}

// Invalidate drops the entry for one meeting.
func (c *candidateCache) Invalidate(meetingID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, meetingID)
	c.mu.Unlock()
}

func (c *candidateCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *candidateCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneSlots(slots []engine.CandidateSlot) []engine.CandidateSlot {
	if len(slots) == 0 {
		return nil
	}
	out := make([]engine.CandidateSlot, len(slots))
	copy(out, slots)
	return out
}
