package testfixtures

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
	"github.com/example/meeting-broker/internal/provider"
)

// MemoryMeetingRepository is an in-memory persistence.MeetingRepository for
// service and handler tests.
type MemoryMeetingRepository struct {
	mu       sync.Mutex
	meetings map[string]meeting.Meeting
	order    []string

	// FailNextUpdate, when set, makes the next UpdateMeeting call fail with
	// the given error and then clears itself.
	FailNextUpdate error
}

// NewMemoryMeetingRepository returns an empty repository.
func NewMemoryMeetingRepository() *MemoryMeetingRepository {
	return &MemoryMeetingRepository{meetings: make(map[string]meeting.Meeting)}
}

// CreateMeeting implements persistence.MeetingRepository.
func (r *MemoryMeetingRepository) CreateMeeting(_ context.Context, m meeting.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.meetings[m.ID]; exists {
		return fmt.Errorf("meeting %s: %w", m.ID, persistence.ErrDuplicate)
	}
	r.meetings[m.ID] = m.Clone()
	r.order = append(r.order, m.ID)
	return nil
}

// GetMeeting implements persistence.MeetingRepository.
func (r *MemoryMeetingRepository) GetMeeting(_ context.Context, id string) (meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok {
		return meeting.Meeting{}, fmt.Errorf("meeting %s: %w", id, persistence.ErrNotFound)
	}
	return m.Clone(), nil
}

// UpdateMeeting implements persistence.MeetingRepository.
func (r *MemoryMeetingRepository) UpdateMeeting(_ context.Context, m meeting.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNextUpdate; err != nil {
		r.FailNextUpdate = nil
		return err
	}
	if _, ok := r.meetings[m.ID]; !ok {
		return fmt.Errorf("meeting %s: %w", m.ID, persistence.ErrNotFound)
	}
	r.meetings[m.ID] = m.Clone()
	return nil
}

// ListMeetings implements persistence.MeetingRepository.
func (r *MemoryMeetingRepository) ListMeetings(_ context.Context, filter persistence.MeetingFilter) ([]meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []meeting.Meeting
	for _, id := range r.order {
		m := r.meetings[id]
		if persistence.MatchesFilter(m, filter) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// MemoryCalendar is an in-memory provider.Calendar with fault injection. A
// single instance serves any number of calendar ids.
type MemoryCalendar struct {
	mu      sync.Mutex
	busy    map[string][]provider.RawBusy
	blocks  map[string]map[string]provider.Block
	nextRef uint64

	readErr   map[string]error
	createErr map[string]error
	deleteErr map[string]error
}

// NewMemoryCalendar returns an empty calendar backend.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{
		busy:      make(map[string][]provider.RawBusy),
		blocks:    make(map[string]map[string]provider.Block),
		readErr:   make(map[string]error),
		createErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

// SeedBusy adds a busy interval to a calendar, as if an external event existed.
func (c *MemoryCalendar) SeedBusy(calendarID string, start, end time.Time, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy[calendarID] = append(c.busy[calendarID], provider.RawBusy{Start: start, End: end, Source: source})
}

// FailReads makes ReadBusy on the calendar fail with err until cleared with nil.
func (c *MemoryCalendar) FailReads(calendarID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.readErr, calendarID)
		return
	}
	c.readErr[calendarID] = err
}

// FailCreates makes CreateBlock on the calendar fail with err until cleared with nil.
func (c *MemoryCalendar) FailCreates(calendarID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.createErr, calendarID)
		return
	}
	c.createErr[calendarID] = err
}

// FailDeletes makes DeleteBlock on the calendar fail with err until cleared with nil.
func (c *MemoryCalendar) FailDeletes(calendarID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.deleteErr, calendarID)
		return
	}
	c.deleteErr[calendarID] = err
}

// ReadBusy implements provider.Calendar. Seeded intervals and created blocks
// are both reported.
func (c *MemoryCalendar) ReadBusy(_ context.Context, calendarID string, from, to time.Time) ([]provider.RawBusy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr[calendarID]; err != nil {
		return nil, err
	}

	var out []provider.RawBusy
	for _, interval := range c.busy[calendarID] {
		if interval.Start.Before(to) && from.Before(interval.End) {
			out = append(out, interval)
		}
	}
	for _, block := range c.blocks[calendarID] {
		if block.Start.Before(to) && from.Before(block.End) {
			out = append(out, provider.RawBusy{Start: block.Start, End: block.End, Source: block.Source})
		}
	}
	return out, nil
}

// CreateBlock implements provider.Calendar.
func (c *MemoryCalendar) CreateBlock(_ context.Context, calendarID string, block provider.Block) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.createErr[calendarID]; err != nil {
		return "", err
	}

	c.nextRef++
	ref := fmt.Sprintf("block-%d", c.nextRef)
	if c.blocks[calendarID] == nil {
		c.blocks[calendarID] = make(map[string]provider.Block)
	}
	c.blocks[calendarID][ref] = block
	return ref, nil
}

// DeleteBlock implements provider.Calendar.
func (c *MemoryCalendar) DeleteBlock(_ context.Context, calendarID string, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.deleteErr[calendarID]; err != nil {
		return err
	}
	if _, ok := c.blocks[calendarID][ref]; !ok {
		return provider.ErrBlockNotFound
	}
	delete(c.blocks[calendarID], ref)
	return nil
}

// Blocks returns the blocks currently held on a calendar, keyed by reference.
func (c *MemoryCalendar) Blocks(calendarID string) map[string]provider.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]provider.Block, len(c.blocks[calendarID]))
	for ref, block := range c.blocks[calendarID] {
		out[ref] = block
	}
	return out
}

// BlockCount returns the number of blocks held on a calendar.
func (c *MemoryCalendar) BlockCount(calendarID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks[calendarID])
}
