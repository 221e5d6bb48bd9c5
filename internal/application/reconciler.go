package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
	"github.com/example/meeting-broker/internal/provider"
)

// HandleCalendarChange reacts to an external calendar change: every committed
// or conflicted meeting with a party on the changed calendar is re-checked
// against fresh reads. Notifications are coarse and may be duplicated or
// spurious; a meeting whose slot is still free is left untouched, so repeated
// deliveries converge to the same state.
func (s *SchedulingService) HandleCalendarChange(ctx context.Context, change provider.Change) error {
	logger := serviceLogger(ctx, s.logger, "reconciler", "handle_change", "calendar_id", change.CalendarID)

	affected, err := s.meetings.ListMeetings(ctx, persistence.MeetingFilter{
		States: []meeting.State{meeting.StateConfirmed, meeting.StateRescheduled, meeting.StateConflicted},
	})
	if err != nil {
		return fmt.Errorf("list committed meetings: %w", err)
	}

	var firstErr error
	for _, m := range affected {
		onCalendar, err := s.meetingUsesCalendar(ctx, m, change.CalendarID)
		if err != nil {
			logger.Warn("failed to resolve meeting parties", "meeting_id", m.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !onCalendar {
			continue
		}
		if err := s.reconcileMeeting(ctx, logger, m.ID); err != nil {
			logger.Warn("reconciliation failed", "meeting_id", m.ID, "error_kind", ErrorKind(err), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *SchedulingService) meetingUsesCalendar(ctx context.Context, m meeting.Meeting, calendarID string) (bool, error) {
	for _, partyID := range m.Parties {
		profile, err := s.directory.Profile(ctx, partyID)
		if err != nil {
			return false, err
		}
		for _, ref := range profile.Calendars {
			if ref.CalendarID == calendarID {
				return true, nil
			}
		}
	}
	return false, nil
}

// reconcileMeeting re-validates one meeting's committed slot and drives the
// conflict lifecycle: a lost slot moves the meeting to Conflicted, then an
// automatic re-resolution runs. The best replacement is booked without asking
// when it starts within the auto-confirm tolerance of the lost slot; otherwise
// the replacements are offered and the meeting waits in Conflicted for a
// choice. Only re-resolutions that come up empty count against the resolution
// budget; a meeting still without a replacement once the budget is spent is
// cancelled. A duplicate delivery to a Conflicted meeting whose offered
// replacements are unchanged does nothing, so at-least-once notification
// transports converge.
func (s *SchedulingService) reconcileMeeting(ctx context.Context, logger *slog.Logger, meetingID string) error {
	unlock := s.locks.Lock(meetingID)
	defer unlock()

	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	logger = logger.With("meeting_id", m.ID)

	wasConflicted := m.State == meeting.StateConflicted
	if !m.State.Committed() && !wasConflicted {
		return nil
	}

	parties, err := s.partyTimelines(ctx, logger, m)
	if err != nil {
		return err
	}

	if m.State.Committed() {
		if m.CommittedSlot == nil {
			return nil
		}
		if engine.SlotFreeForAll(m.Constraints, requiredTimelines(m.Constraints, parties), m.CommittedSlot.Start, m.CommittedSlot.End) {
			logger.Debug("committed slot still free, nothing to do")
			return nil
		}
		if err := m.TransitionTo(meeting.StateConflicted, s.now(), "committed slot no longer free"); err != nil {
			return err
		}
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			return fmt.Errorf("persist conflict: %w", err)
		}
		s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyConflicted, Message: "committed slot no longer free", At: s.now()})
		logger.Info("meeting conflicted")
	}

	slots, err := s.resolveFromTimelines(ctx, m.Constraints, parties)
	if err != nil {
		m.RecordNote(s.now(), "re-resolution failed: "+err.Error())
		if updateErr := s.meetings.UpdateMeeting(ctx, m); updateErr != nil {
			logger.Error("failed to record re-resolution failure", "error", updateErr)
		}
		return err
	}

	if len(slots) == 0 {
		m.Candidates = nil
		m.ResolutionAttempts++
		if m.ResolutionAttempts >= s.maxResolutionAttempts {
			logger.Warn("resolution budget spent without a replacement, cancelling", "attempts", m.ResolutionAttempts)
			_, err := s.cancelLocked(ctx, logger, m, "no feasible replacement slots within the resolution budget")
			return err
		}
		m.RecordNote(s.now(), "no feasible replacement slots")
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			return fmt.Errorf("persist empty re-resolution: %w", err)
		}
		s.cache.Invalidate(m.ID)
		s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyConflicted, Message: "no replacement slots available", At: s.now()})
		return nil
	}

	if wasConflicted && sameSlots(m.Candidates, slots) {
		logger.Debug("replacement candidates unchanged, nothing to do")
		return nil
	}

	m.Candidates = slots
	best := slots[0]
	if s.autoConfirmTolerance > 0 && m.CommittedSlot != nil &&
		absDuration(best.Start.Sub(m.CommittedSlot.Start)) <= s.autoConfirmTolerance {
		return s.rebookLocked(ctx, logger, m, best)
	}

	m.RecordNote(s.now(), fmt.Sprintf("%d replacement slots offered", len(slots)))
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("persist replacements: %w", err)
	}
	s.cache.Store(m.ID, slots)
	s.notifier.Notify(ctx, Notification{
		MeetingID: m.ID,
		Kind:      NotifyConflicted,
		Message:   fmt.Sprintf("%d replacement slots offered", len(slots)),
		At:        s.now(),
	})
	logger.Info("replacement slots offered", "count", len(slots))
	return nil
}

// rebookLocked commits a replacement slot automatically. Caller holds the
// meeting lock and has verified the slot against fresh timelines.
func (s *SchedulingService) rebookLocked(ctx context.Context, logger *slog.Logger, m meeting.Meeting, slot engine.CandidateSlot) error {
	if err := m.TransitionTo(meeting.StateConfirming, s.now(), "auto-confirming replacement slot"); err != nil {
		return err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("persist confirming state: %w", err)
	}

	if len(m.Bookings) > 0 {
		orphaned, _ := s.deleteBlocks(ctx, logger, m.Bookings)
		if len(orphaned) > 0 {
			m.NeedsAttention = true
			m.RecordNote(s.now(), fmt.Sprintf("%d stale calendar blocks could not be removed", len(orphaned)))
		}
		m.Bookings = nil
	}
	m.ReleaseSlot(s.now(), "superseded by automatic reschedule")

	bookings, bookErr := s.bookAll(ctx, logger, m, slot)
	if bookErr != nil {
		var rbErr *RollbackError
		if errors.As(bookErr, &rbErr) {
			m.NeedsAttention = true
			s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyNeedsAttention, Message: bookErr.Error(), At: s.now()})
		}
		m.RecordNote(s.now(), "automatic rebooking failed: "+bookErr.Error())
		if err := m.TransitionTo(meeting.StateProposed, s.now(), "automatic rebooking rolled back"); err != nil {
			logger.Error("failed to revert confirming state", "error", err)
		}
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			logger.Error("failed to persist rebooking failure", "error", err)
		}
		s.cache.Invalidate(m.ID)
		return bookErr
	}

	m.Commit(slot, bookings)
	if err := m.TransitionTo(meeting.StateRescheduled, s.now(), "auto-confirmed replacement slot"); err != nil {
		return err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("persist reschedule: %w", err)
	}
	s.cache.Invalidate(m.ID)
	s.notifier.Notify(ctx, Notification{
		MeetingID: m.ID,
		Kind:      NotifyRescheduled,
		Message:   fmt.Sprintf("automatically rescheduled to %s", slot.Start.Format(time.RFC3339)),
		At:        s.now(),
	})
	logger.Info("meeting rescheduled automatically", "start", slot.Start.Format(time.RFC3339))
	return nil
}

// cancelLocked ends the lifecycle while already holding the meeting lock.
func (s *SchedulingService) cancelLocked(ctx context.Context, logger *slog.Logger, m meeting.Meeting, reason string) (meeting.Meeting, error) {
	if len(m.Bookings) > 0 {
		orphaned, _ := s.deleteBlocks(ctx, logger, m.Bookings)
		if len(orphaned) > 0 {
			m.NeedsAttention = true
			m.RecordNote(s.now(), fmt.Sprintf("%d calendar blocks could not be removed on cancellation", len(orphaned)))
		}
		m.Bookings = nil
	}
	m.ReleaseSlot(s.now(), "meeting cancelled")
	if err := m.TransitionTo(meeting.StateCancelled, s.now(), reason); err != nil {
		return m, err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return m, fmt.Errorf("persist cancellation: %w", err)
	}
	s.cache.Invalidate(m.ID)
	s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyCancelled, Message: reason, At: s.now()})
	logger.Info("meeting cancelled", "reason", reason)
	return m, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// sameSlots reports whether two candidate lists offer the same time ranges in
// the same order.
func sameSlots(a, b []engine.CandidateSlot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			return false
		}
	}
	return true
}
