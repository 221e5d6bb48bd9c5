package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMalformedInterval indicates a raw busy interval whose start does not
// precede its end. Such input is rejected locally and never reaches meeting
// state.
var ErrMalformedInterval = errors.New("timeline: interval start must precede end")

// BusyInterval is a time range during which a party is unavailable. Start and
// End are UTC instants. Source identifies the calendar the interval was read
// from; blocks written by the engine itself carry the owning meeting id so
// they can be recognized during reconciliation.
type BusyInterval struct {
	Start  time.Time
	End    time.Time
	Source string
}

// Overlaps reports whether the interval intersects [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// Normalize converts raw, possibly-overlapping, possibly-mixed-timezone busy
// intervals into a sorted, non-overlapping sequence in UTC. Overlapping or
// touching intervals merge into one. Inputs with start >= end fail with
// ErrMalformedInterval. The input slice is not modified.
func Normalize(raw []BusyInterval) ([]BusyInterval, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	intervals := make([]BusyInterval, 0, len(raw))
	for i, in := range raw {
		if !in.Start.Before(in.End) {
			return nil, fmt.Errorf("interval %d (source %q, start %s): %w", i, in.Source, in.Start.Format(time.RFC3339), ErrMalformedInterval)
		}
		intervals = append(intervals, BusyInterval{
			Start:  in.Start.UTC(),
			End:    in.End.UTC(),
			Source: in.Source,
		})
	}

	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start.Equal(intervals[j].Start) {
			return intervals[i].End.Before(intervals[j].End)
		}
		return intervals[i].Start.Before(intervals[j].Start)
	})

	merged := intervals[:1]
	for _, next := range intervals[1:] {
		last := &merged[len(merged)-1]
		// Touching intervals (last.End == next.Start) merge as well.
		if !next.Start.After(last.End) {
			if next.End.After(last.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}

	return merged, nil
}

// ExcludeSource returns the intervals whose source differs from the given
// identifier. Used by reconciliation to ignore a meeting's own booked block.
func ExcludeSource(intervals []BusyInterval, source string) []BusyInterval {
	if source == "" {
		return intervals
	}
	out := make([]BusyInterval, 0, len(intervals))
	for _, in := range intervals {
		if in.Source == source {
			continue
		}
		out = append(out, in)
	}
	return out
}
