package engine

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/example/meeting-broker/internal/timeline"
)

// CandidateSlot is a contiguous time range satisfying all hard constraints of
// a resolution pass. Slots are created once and never mutated; ranking
// re-sorts copies.
type CandidateSlot struct {
	Start time.Time
	End   time.Time
	// Score is the total absolute offset, in minutes, of the slot midpoint
	// from 12:00 local across all parties. Lower is closer to everyone's
	// midday.
	Score float64
	// ViolatedSoft lists the soft constraints the slot does not satisfy.
	ViolatedSoft []string
	// Index is the stable emission position used as the final ranking
	// tie-break.
	Index int
}

// SameRange reports whether the slot covers exactly [start, end).
func (s CandidateSlot) SameRange(start, end time.Time) bool {
	return s.Start.Equal(start) && s.End.Equal(end)
}

// FindSlots prepares a lazy, finite, restartable sequence of candidate slots
// over [EarliestStart, LatestStart]. It fails with *ConstraintError only when
// the constraint set itself is inconsistent; an infeasible but well-formed
// request yields an empty sequence.
func FindSlots(constraints ConstraintSet, parties []timeline.PartyTimeline) (*SlotSequence, error) {
	if err := constraints.Validate(parties); err != nil {
		return nil, err
	}

	step := constraints.step()
	horizonEnd := constraints.LatestStart.Add(constraints.Duration)

	required := constraints.requiredSet()
	allRequired := len(required) == 0

	// Sweep boundaries of every required party's buffer-expanded busy
	// intervals into one merged blocked timeline.
	var blocked []timeline.Window
	var optional []timeline.PartyTimeline
	for _, party := range parties {
		_, isRequired := required[party.PartyID]
		if !allRequired && !isRequired {
			optional = append(optional, party)
			continue
		}
		for _, busy := range party.Busy {
			blocked = append(blocked, timeline.Window{
				Start: busy.Start.Add(-constraints.BufferAfter),
				End:   busy.End.Add(constraints.BufferBefore),
			})
		}
	}
	blocked = mergeWindows(blocked)

	// The eligible base is the intersection of every party's working-hour
	// windows: a slot must sit inside the same working day for each party.
	free := intersectWorkingWindows(parties, constraints.EarliestStart, horizonEnd)
	free = subtractWindows(free, blocked)

	seq := &SlotSequence{
		constraints: constraints,
		windows:     free,
		optional:    optional,
		parties:     parties,
		step:        step,
		blackouts:   constraints.blackoutSet(),
	}
	seq.Reset()
	return seq, nil
}

// SlotSequence emits candidate slots in ascending start order. It is lazy
// (slots are materialized one Next call at a time), finite, and restartable
// via Reset. Cancel requests cooperative termination; it is checked between
// emissions.
type SlotSequence struct {
	constraints ConstraintSet
	windows     []timeline.Window
	optional    []timeline.PartyTimeline
	parties     []timeline.PartyTimeline
	step        time.Duration
	blackouts   map[string]struct{}

	winIdx    int
	cursor    time.Time
	index     int
	cancelled atomic.Bool
}

// Reset rewinds the sequence to its first candidate. The cancellation flag is
// cleared so a fresh pass can run.
func (s *SlotSequence) Reset() {
	s.winIdx = 0
	s.index = 0
	s.cancelled.Store(false)
	if len(s.windows) > 0 {
		s.cursor = alignUp(s.windows[0].Start, s.step)
	}
}

// Cancel requests that the sequence stop emitting. In-flight Next calls
// complete; subsequent calls return no slot.
func (s *SlotSequence) Cancel() {
	s.cancelled.Store(true)
}

// Next returns the next eligible candidate slot. The second return value is
// false when the sequence is exhausted or cancelled.
func (s *SlotSequence) Next() (CandidateSlot, bool) {
	for !s.cancelled.Load() && s.winIdx < len(s.windows) {
		window := s.windows[s.winIdx]

		start := s.cursor
		if start.Before(window.Start) {
			start = alignUp(window.Start, s.step)
		}
		end := start.Add(s.constraints.Duration)

		if end.After(window.End) || start.After(s.constraints.LatestStart) {
			s.winIdx++
			if s.winIdx < len(s.windows) {
				s.cursor = alignUp(s.windows[s.winIdx].Start, s.step)
			}
			continue
		}

		s.cursor = start.Add(s.step)

		if start.Before(s.constraints.EarliestStart) {
			continue
		}
		if s.isBlackout(start) {
			continue
		}

		slot := CandidateSlot{
			Start:        start,
			End:          end,
			Score:        middayOffsetMinutes(start, end, s.parties),
			ViolatedSoft: s.softViolations(start, end),
			Index:        s.index,
		}
		s.index++
		return slot, true
	}
	return CandidateSlot{}, false
}

// Collect drains the sequence into a slice, checking ctx between emissions so
// a caller can cancel a long search cooperatively.
func (s *SlotSequence) Collect(ctx context.Context) ([]CandidateSlot, error) {
	var slots []CandidateSlot
	for {
		if err := ctx.Err(); err != nil {
			return slots, err
		}
		slot, ok := s.Next()
		if !ok {
			return slots, nil
		}
		slots = append(slots, slot)
	}
}

func (s *SlotSequence) isBlackout(start time.Time) bool {
	if len(s.blackouts) == 0 {
		return false
	}
	_, ok := s.blackouts[start.UTC().Format(time.DateOnly)]
	return ok
}

func (s *SlotSequence) softViolations(start, end time.Time) []string {
	var violated []string
	if pref := s.constraints.PreferredWindow; pref != nil {
		minute := start.UTC().Hour()*60 + start.UTC().Minute()
		if minute < pref.StartMinute || minute >= pref.EndMinute {
			violated = append(violated, "outside_preferred_window")
		}
	}
	for _, party := range s.optional {
		if !party.FreeDuring(start, end, s.constraints.BufferBefore, s.constraints.BufferAfter) {
			violated = append(violated, "optional_party_busy:"+party.PartyID)
		}
	}
	return violated
}

// SlotFreeForAll reports whether [start, end), expanded by the constraint
// buffers, is clear on every supplied timeline. Used to re-validate a slot at
// confirmation time and during reconciliation.
func SlotFreeForAll(constraints ConstraintSet, parties []timeline.PartyTimeline, start, end time.Time) bool {
	for _, party := range parties {
		if !party.FreeDuring(start, end, constraints.BufferBefore, constraints.BufferAfter) {
			return false
		}
	}
	return true
}

func middayOffsetMinutes(start, end time.Time, parties []timeline.PartyTimeline) float64 {
	midpoint := start.Add(end.Sub(start) / 2)
	var total float64
	for _, party := range parties {
		local := midpoint.In(locationOf(party))
		minute := float64(local.Hour()*60 + local.Minute())
		offset := minute - 12*60
		if offset < 0 {
			offset = -offset
		}
		total += offset
	}
	return total
}

func locationOf(party timeline.PartyTimeline) *time.Location {
	if party.Hours.Location != nil {
		return party.Hours.Location
	}
	return time.UTC
}

// alignUp rounds t up to the next multiple of step on the UTC grid.
func alignUp(t time.Time, step time.Duration) time.Time {
	aligned := t.Truncate(step)
	if aligned.Before(t) {
		aligned = aligned.Add(step)
	}
	return aligned
}

// mergeWindows sorts windows by start and coalesces overlapping or touching
// ranges.
func mergeWindows(windows []timeline.Window) []timeline.Window {
	if len(windows) == 0 {
		return nil
	}
	sorted := make([]timeline.Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := sorted[:1]
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !next.Start.After(last.End) {
			if next.End.After(last.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// intersectWorkingWindows computes the ranges inside [from, to) that fall
// within a working-hour window of every party simultaneously.
func intersectWorkingWindows(parties []timeline.PartyTimeline, from, to time.Time) []timeline.Window {
	if len(parties) == 0 {
		return nil
	}
	result := clipWindows(parties[0].Hours.WindowsBetween(from, to), from, to)
	for _, party := range parties[1:] {
		other := clipWindows(party.Hours.WindowsBetween(from, to), from, to)
		result = intersectWindowSets(result, other)
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

func clipWindows(windows []timeline.Window, from, to time.Time) []timeline.Window {
	out := make([]timeline.Window, 0, len(windows))
	for _, win := range windows {
		start, end := win.Start, win.End
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if start.Before(end) {
			out = append(out, timeline.Window{Start: start, End: end})
		}
	}
	return out
}

func intersectWindowSets(a, b []timeline.Window) []timeline.Window {
	var out []timeline.Window
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := a[i].Start
		if b[j].Start.After(start) {
			start = b[j].Start
		}
		end := a[i].End
		if b[j].End.Before(end) {
			end = b[j].End
		}
		if start.Before(end) {
			out = append(out, timeline.Window{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

// subtractWindows removes every blocked range from the free set.
func subtractWindows(free, blocked []timeline.Window) []timeline.Window {
	if len(blocked) == 0 {
		return free
	}
	var out []timeline.Window
	for _, win := range free {
		remaining := []timeline.Window{win}
		for _, block := range blocked {
			var next []timeline.Window
			for _, r := range remaining {
				if !block.Start.Before(r.End) || !r.Start.Before(block.End) {
					next = append(next, r)
					continue
				}
				if r.Start.Before(block.Start) {
					next = append(next, timeline.Window{Start: r.Start, End: block.Start})
				}
				if block.End.Before(r.End) {
					next = append(next, timeline.Window{Start: block.End, End: r.End})
				}
			}
			remaining = next
			if len(remaining) == 0 {
				break
			}
		}
		out = append(out, remaining...)
	}
	return out
}
