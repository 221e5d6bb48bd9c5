package timeline

import (
	"errors"
	"time"
)

// ErrInvalidWorkingHours indicates a working-hour rule whose window is empty
// or whose bounds fall outside a single day.
var ErrInvalidWorkingHours = errors.New("timeline: invalid working hours")

// WorkingHours describes a party's recurring availability rule: a wall-clock
// window on selected weekdays, interpreted in the party's own time zone.
type WorkingHours struct {
	// Weekdays the party works. Empty means Monday through Friday.
	Weekdays []time.Weekday
	// StartMinute and EndMinute are minutes from local midnight.
	StartMinute int
	EndMinute   int
	// Location resolves the wall-clock window to instants, including DST
	// shifts. Nil means UTC.
	Location *time.Location
}

// Validate checks the rule for internal consistency.
func (w WorkingHours) Validate() error {
	if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
		return ErrInvalidWorkingHours
	}
	for _, day := range w.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			return ErrInvalidWorkingHours
		}
	}
	return nil
}

// WindowLength returns the daily window duration.
func (w WorkingHours) WindowLength() time.Duration {
	return time.Duration(w.EndMinute-w.StartMinute) * time.Minute
}

func (w WorkingHours) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w WorkingHours) worksOn(day time.Weekday) bool {
	if len(w.Weekdays) == 0 {
		return day >= time.Monday && day <= time.Friday
	}
	for _, d := range w.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Window is a half-open UTC time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether [start, end) lies entirely within the window.
func (w Window) Contains(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}

// WindowsBetween expands the rule into concrete UTC windows that intersect
// [from, to). Each window corresponds to one local working day; windows are
// sorted and never span local midnight. Instants are exact for the offset in
// force on that day, so DST transition days yield shifted UTC windows rather
// than shifted local wall clocks.
func (w WorkingHours) WindowsBetween(from, to time.Time) []Window {
	if !from.Before(to) {
		return nil
	}

	loc := w.location()
	var windows []Window

	// Walk local days from the day containing `from` through the day
	// containing `to`.
	localFrom := from.In(loc)
	day := time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 0, 0, 0, 0, loc)
	for !day.After(to.In(loc)) {
		if w.worksOn(day.Weekday()) {
			start := day.Add(time.Duration(w.StartMinute) * time.Minute)
			end := day.Add(time.Duration(w.EndMinute) * time.Minute)
			if end.After(from) && start.Before(to) {
				windows = append(windows, Window{Start: start.UTC(), End: end.UTC()})
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	return windows
}

// PartyTimeline is one party's normalized busy intervals plus the party's
// working-hour rule. It lives for the duration of a single resolution pass
// and is never persisted.
type PartyTimeline struct {
	PartyID string
	Busy    []BusyInterval
	Hours   WorkingHours
}

// NewPartyTimeline normalizes raw busy intervals into a timeline for one
// party. Fails with ErrMalformedInterval on malformed input and
// ErrInvalidWorkingHours on a bad rule.
func NewPartyTimeline(partyID string, raw []BusyInterval, hours WorkingHours) (PartyTimeline, error) {
	if err := hours.Validate(); err != nil {
		return PartyTimeline{}, err
	}
	busy, err := Normalize(raw)
	if err != nil {
		return PartyTimeline{}, err
	}
	return PartyTimeline{PartyID: partyID, Busy: busy, Hours: hours}, nil
}

// FreeDuring reports whether [start, end), expanded by the given buffers, is
// clear of every busy interval on the timeline.
func (t PartyTimeline) FreeDuring(start, end time.Time, bufferBefore, bufferAfter time.Duration) bool {
	expandedStart := start.Add(-bufferBefore)
	expandedEnd := end.Add(bufferAfter)
	for _, busy := range t.Busy {
		if busy.Overlaps(expandedStart, expandedEnd) {
			return false
		}
		if !busy.Start.Before(expandedEnd) {
			break
		}
	}
	return true
}

// WithinWorkingDay reports whether [start, end) falls entirely within one of
// the party's working-hour windows.
func (t PartyTimeline) WithinWorkingDay(start, end time.Time) bool {
	for _, win := range t.Hours.WindowsBetween(start.Add(-24*time.Hour), end.Add(24*time.Hour)) {
		if win.Contains(start, end) {
			return true
		}
	}
	return false
}
