// Package application hosts the meeting lifecycle services: requesting and
// resolving meetings, confirming slots against external calendars, and
// reconciling committed slots when those calendars change underneath us.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
	"github.com/example/meeting-broker/internal/provider"
	"github.com/example/meeting-broker/internal/timeline"
)

// SchedulingServiceOptions tunes lifecycle behaviour. Zero values fall back to
// defaults.
type SchedulingServiceOptions struct {
	// MaxCandidates caps the number of slots offered per resolution pass.
	MaxCandidates int
	// CandidateCacheTTL bounds how long a computed candidate list is served
	// without re-reading party calendars.
	CandidateCacheTTL time.Duration
	// AutoConfirmTolerance enables automatic rescheduling after a conflict
	// when the best replacement slot starts within this distance of the lost
	// one. Zero disables auto-confirmation.
	AutoConfirmTolerance time.Duration
	// MaxResolutionAttempts bounds automatic re-resolutions of one meeting
	// before it is cancelled.
	MaxResolutionAttempts int

	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ProviderTimeout time.Duration

	Now         func() time.Time
	IDGenerator func() string
}

// SchedulingService owns the meeting lifecycle. All mutations of one meeting
// are serialized through a per-id lock; operations on different meetings run
// concurrently.
type SchedulingService struct {
	meetings  persistence.MeetingRepository
	directory PartyDirectory
	providers map[string]provider.Calendar
	notifier  Notifier
	cache     *candidateCache
	locks     *keyedMutex
	logger    *slog.Logger
	retry     retryPolicy

	now         func() time.Time
	idGenerator func() string

	maxCandidates         int
	autoConfirmTolerance  time.Duration
	maxResolutionAttempts int
}

// NewSchedulingService wires the lifecycle service.
func NewSchedulingService(
	meetings persistence.MeetingRepository,
	directory PartyDirectory,
	providers map[string]provider.Calendar,
	notifier Notifier,
	logger *slog.Logger,
	opts SchedulingServiceOptions,
) *SchedulingService {
	logger = defaultLogger(logger)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	idGenerator := opts.IDGenerator
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	maxAttempts := opts.MaxResolutionAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	retry := defaultRetryPolicy()
	if opts.RetryAttempts > 0 {
		retry.MaxAttempts = opts.RetryAttempts
	}
	if opts.RetryBaseDelay > 0 {
		retry.BaseDelay = opts.RetryBaseDelay
	}
	if opts.RetryMaxDelay > 0 {
		retry.MaxDelay = opts.RetryMaxDelay
	}
	if opts.ProviderTimeout > 0 {
		retry.PerAttemptTimeout = opts.ProviderTimeout
	}

	return &SchedulingService{
		meetings:              meetings,
		directory:             directory,
		providers:             providers,
		notifier:              notifier,
		cache:                 newCandidateCache(opts.CandidateCacheTTL, 0, now),
		locks:                 newKeyedMutex(),
		logger:                logger,
		retry:                 retry,
		now:                   now,
		idGenerator:           idGenerator,
		maxCandidates:         maxCandidates,
		autoConfirmTolerance:  opts.AutoConfirmTolerance,
		maxResolutionAttempts: maxAttempts,
	}
}

// RequestMeetingParams captures a new meeting request.
type RequestMeetingParams struct {
	Parties     []string
	Constraints engine.ConstraintSet
}

// RequestMeeting creates a meeting and runs the first resolution pass. With at
// least one feasible slot the meeting is Proposed with ranked candidates; a
// request whose constraints are inconsistent, or whose search range holds no
// feasible slot, stays Draft with the outcome recorded in its history.
func (s *SchedulingService) RequestMeeting(ctx context.Context, params RequestMeetingParams) (meeting.Meeting, error) {
	logger := serviceLogger(ctx, s.logger, "scheduling", "request_meeting")

	vErr := &ValidationError{}
	if len(params.Parties) < 2 {
		vErr.Add("parties", "at least two parties are required")
	}
	seen := make(map[string]struct{}, len(params.Parties))
	for _, partyID := range params.Parties {
		if partyID == "" {
			vErr.Add("parties", "party ids must not be empty")
			break
		}
		if _, dup := seen[partyID]; dup {
			vErr.Add("parties", fmt.Sprintf("party %s listed more than once", partyID))
			break
		}
		seen[partyID] = struct{}{}
	}
	if params.Constraints.Duration <= 0 {
		vErr.Add("duration", "must be positive")
	}
	if params.Constraints.EarliestStart.IsZero() || params.Constraints.LatestStart.IsZero() {
		vErr.Add("range", "earliest and latest start are required")
	}
	if vErr.HasErrors() {
		return meeting.Meeting{}, vErr
	}

	now := s.now()
	m := meeting.New(s.idGenerator(), params.Parties, params.Constraints, now)
	if err := s.meetings.CreateMeeting(ctx, m); err != nil {
		return meeting.Meeting{}, fmt.Errorf("create meeting: %w", err)
	}
	logger = logger.With("meeting_id", m.ID)

	slots, err := s.resolveCandidates(ctx, logger, m)
	if err != nil {
		m.RecordNote(s.now(), "resolution failed: "+err.Error())
		if updateErr := s.meetings.UpdateMeeting(ctx, m); updateErr != nil {
			logger.Error("failed to record resolution failure", "error", updateErr)
		}
		logger.Warn("meeting resolution failed", "error_kind", ErrorKind(err), "error", err)
		return m, err
	}

	if len(slots) == 0 {
		// No offer can be made, so the meeting is not Proposed. It stays
		// Draft; a later ListCandidates pass retries the resolution.
		m.RecordNote(s.now(), "no feasible slots in range")
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			return m, fmt.Errorf("persist empty resolution: %w", err)
		}
		logger.Info("no feasible slots, meeting stays draft")
		return m, nil
	}

	m.Candidates = slots
	cause := fmt.Sprintf("%d candidate slots offered", len(slots))
	if err := m.TransitionTo(meeting.StateProposed, s.now(), cause); err != nil {
		return m, err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return m, fmt.Errorf("persist proposal: %w", err)
	}
	s.cache.Store(m.ID, slots)
	s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyProposed, Message: cause, At: s.now()})
	logger.Info("meeting proposed", "candidates", len(slots))
	return m, nil
}

// GetMeeting returns one meeting by id.
func (s *SchedulingService) GetMeeting(ctx context.Context, meetingID string) (meeting.Meeting, error) {
	m, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return meeting.Meeting{}, fmt.Errorf("meeting %s: %w", meetingID, ErrNotFound)
		}
		return meeting.Meeting{}, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}

// ListMeetings returns meetings matching the filter.
func (s *SchedulingService) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]meeting.Meeting, error) {
	return s.meetings.ListMeetings(ctx, filter)
}

// ListCandidates returns the current candidate slots for a meeting. For a
// meeting still awaiting a choice the list is recomputed from fresh calendar
// reads when the cached copy has expired; a Draft meeting whose first
// resolution failed gets another pass and moves to Proposed on success.
func (s *SchedulingService) ListCandidates(ctx context.Context, meetingID string) ([]engine.CandidateSlot, error) {
	logger := serviceLogger(ctx, s.logger, "scheduling", "list_candidates", "meeting_id", meetingID)

	unlock := s.locks.Lock(meetingID)
	defer unlock()

	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.State.Terminal() {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, ErrMeetingClosed)
	}

	switch m.State {
	case meeting.StateDraft, meeting.StateProposed, meeting.StateConflicted:
	default:
		return cloneSlots(m.Candidates), nil
	}

	if slots, ok := s.cache.Get(meetingID); ok && m.State != meeting.StateDraft {
		return slots, nil
	}

	slots, err := s.resolveCandidates(ctx, logger, m)
	if err != nil {
		logger.Warn("candidate refresh failed", "error_kind", ErrorKind(err), "error", err)
		return nil, err
	}

	m.Candidates = slots
	switch {
	case m.State == meeting.StateDraft && len(slots) > 0:
		cause := fmt.Sprintf("%d candidate slots offered", len(slots))
		if err := m.TransitionTo(meeting.StateProposed, s.now(), cause); err != nil {
			return nil, err
		}
		s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyProposed, Message: cause, At: s.now()})
	case m.State == meeting.StateDraft:
		// Still no offer to make; the meeting is not Proposed without one.
		m.RecordNote(s.now(), "no feasible slots in range")
	default:
		m.UpdatedAt = s.now()
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("persist candidates: %w", err)
	}
	s.cache.Store(meetingID, slots)
	return cloneSlots(slots), nil
}

// ConfirmSlot commits one offered slot: the slot is re-validated against
// fresh calendar reads, then a busy block is written to every party's calendar
// in deterministic order. A partial booking failure rolls the created blocks
// back and reverts the meeting to Proposed; if the rollback itself fails the
// meeting is flagged for attention. A slot lost since proposal returns a
// *ConflictError carrying a refreshed candidate list.
func (s *SchedulingService) ConfirmSlot(ctx context.Context, meetingID string, slotIndex int) (meeting.Meeting, error) {
	logger := serviceLogger(ctx, s.logger, "scheduling", "confirm_slot", "meeting_id", meetingID, "slot_index", slotIndex)

	unlock := s.locks.Lock(meetingID)
	defer unlock()

	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return meeting.Meeting{}, err
	}
	if m.State.Terminal() {
		return m, fmt.Errorf("meeting %s: %w", meetingID, ErrMeetingClosed)
	}
	if m.State != meeting.StateProposed && m.State != meeting.StateConflicted {
		return m, &meeting.InvalidTransitionError{MeetingID: m.ID, From: m.State, To: meeting.StateConfirming}
	}
	if slotIndex < 0 || slotIndex >= len(m.Candidates) {
		vErr := &ValidationError{}
		vErr.Add("slot_index", fmt.Sprintf("must name one of the %d offered slots", len(m.Candidates)))
		return m, vErr
	}
	slot := m.Candidates[slotIndex]
	wasConflicted := m.State == meeting.StateConflicted

	parties, err := s.partyTimelines(ctx, logger, m)
	if err != nil {
		return m, err
	}
	if !engine.SlotFreeForAll(m.Constraints, requiredTimelines(m.Constraints, parties), slot.Start, slot.End) {
		refreshed, resolveErr := s.resolveFromTimelines(ctx, m.Constraints, parties)
		if resolveErr != nil {
			return m, resolveErr
		}
		m.Candidates = refreshed
		m.RecordNote(s.now(), fmt.Sprintf("slot %d lost before confirmation, %d replacements offered", slotIndex, len(refreshed)))
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			return m, fmt.Errorf("persist refreshed candidates: %w", err)
		}
		s.cache.Store(meetingID, refreshed)
		logger.Info("selected slot no longer free", "replacements", len(refreshed))
		return m, &ConflictError{MeetingID: m.ID, Refreshed: refreshed}
	}

	if err := m.TransitionTo(meeting.StateConfirming, s.now(), fmt.Sprintf("slot %d selected", slotIndex)); err != nil {
		return m, err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return m, fmt.Errorf("persist confirming state: %w", err)
	}

	// A re-confirmation after a conflict supersedes the previous bookings.
	if len(m.Bookings) > 0 {
		orphaned, _ := s.deleteBlocks(ctx, logger, m.Bookings)
		if len(orphaned) > 0 {
			m.NeedsAttention = true
			m.RecordNote(s.now(), fmt.Sprintf("%d stale calendar blocks could not be removed", len(orphaned)))
		}
		m.ReleaseSlot(s.now(), "superseded by new selection")
		m.Bookings = nil
	}

	bookings, bookErr := s.bookAll(ctx, logger, m, slot)
	if bookErr != nil {
		var rbErr *RollbackError
		if errors.As(bookErr, &rbErr) {
			m.NeedsAttention = true
			s.notifier.Notify(ctx, Notification{MeetingID: m.ID, Kind: NotifyNeedsAttention, Message: bookErr.Error(), At: s.now()})
		}
		m.RecordNote(s.now(), "booking failed: "+bookErr.Error())
		if err := m.TransitionTo(meeting.StateProposed, s.now(), "booking rolled back"); err != nil {
			logger.Error("failed to revert confirming state", "error", err)
		}
		if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
			logger.Error("failed to persist booking failure", "error", err)
		}
		s.cache.Invalidate(meetingID)
		logger.Warn("slot confirmation failed", "error_kind", ErrorKind(bookErr), "error", bookErr)
		return m, bookErr
	}

	m.Commit(slot, bookings)
	target := meeting.StateConfirmed
	kind := NotifyConfirmed
	if wasConflicted {
		target = meeting.StateRescheduled
		kind = NotifyRescheduled
	}
	if err := m.TransitionTo(target, s.now(), "booked on all party calendars"); err != nil {
		return m, err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return m, fmt.Errorf("persist confirmation: %w", err)
	}
	s.cache.Invalidate(meetingID)
	s.notifier.Notify(ctx, Notification{
		MeetingID: m.ID,
		Kind:      kind,
		Message:   fmt.Sprintf("slot %s confirmed", slot.Start.Format(time.RFC3339)),
		At:        s.now(),
	})
	logger.Info("slot confirmed", "start", slot.Start.Format(time.RFC3339), "state", string(m.State))
	return m, nil
}

// CancelMeeting ends a meeting's lifecycle and removes any booked blocks from
// party calendars. Cancelling an already closed meeting is a no-op because
// duplicate external triggers are expected.
func (s *SchedulingService) CancelMeeting(ctx context.Context, meetingID, reason string) (meeting.Meeting, error) {
	logger := serviceLogger(ctx, s.logger, "scheduling", "cancel_meeting", "meeting_id", meetingID)

	unlock := s.locks.Lock(meetingID)
	defer unlock()

	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return meeting.Meeting{}, err
	}
	if m.State.Terminal() {
		return m, nil
	}

	if reason == "" {
		reason = "cancelled by request"
	}
	return s.cancelLocked(ctx, logger, m, reason)
}

// ExpireOverdue moves Proposed meetings whose every offered slot has passed to
// Expired. It returns the number of meetings expired.
func (s *SchedulingService) ExpireOverdue(ctx context.Context) (int, error) {
	logger := serviceLogger(ctx, s.logger, "scheduling", "expire_overdue")

	proposed, err := s.meetings.ListMeetings(ctx, persistence.MeetingFilter{States: []meeting.State{meeting.StateProposed}})
	if err != nil {
		return 0, fmt.Errorf("list proposed meetings: %w", err)
	}

	expired := 0
	for _, candidate := range proposed {
		if !candidate.AllCandidatesPassed(s.now()) {
			continue
		}
		if err := s.expireOne(ctx, logger, candidate.ID); err != nil {
			logger.Warn("failed to expire meeting", "meeting_id", candidate.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *SchedulingService) expireOne(ctx context.Context, logger *slog.Logger, meetingID string) error {
	unlock := s.locks.Lock(meetingID)
	defer unlock()

	// Re-read under the lock; the state may have moved since the listing.
	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	now := s.now()
	if m.State != meeting.StateProposed || !m.AllCandidatesPassed(now) {
		return nil
	}
	if err := m.TransitionTo(meeting.StateExpired, now, "all offered slots passed without a choice"); err != nil {
		return err
	}
	if err := s.meetings.UpdateMeeting(ctx, m); err != nil {
		return err
	}
	s.cache.Invalidate(meetingID)
	s.notifier.Notify(ctx, Notification{MeetingID: meetingID, Kind: NotifyExpired, Message: "meeting expired", At: now})
	logger.Info("meeting expired", "meeting_id", meetingID)
	return nil
}

// partyTimelines reads every party's calendars over the meeting's search range
// and assembles normalized timelines. Blocks the meeting itself wrote are
// excluded by source before normalization so they never count as conflicts.
func (s *SchedulingService) partyTimelines(ctx context.Context, logger *slog.Logger, m meeting.Meeting) ([]timeline.PartyTimeline, error) {
	pad := m.Constraints.BufferBefore + m.Constraints.BufferAfter
	from := m.Constraints.EarliestStart.Add(-pad)
	to := m.Constraints.LatestStart.Add(m.Constraints.Duration + pad)

	timelines := make([]timeline.PartyTimeline, 0, len(m.Parties))
	for _, partyID := range m.Parties {
		profile, err := s.directory.Profile(ctx, partyID)
		if err != nil {
			return nil, err
		}

		var raw []timeline.BusyInterval
		for _, ref := range profile.Calendars {
			cal, ok := s.providers[ref.Provider]
			if !ok {
				return nil, fmt.Errorf("calendar %s of party %s: provider %s: %w", ref.CalendarID, partyID, ref.Provider, ErrUnknownProvider)
			}

			var busy []provider.RawBusy
			err := s.retry.do(ctx, logger, "read_busy", func(ctx context.Context) error {
				var readErr error
				busy, readErr = cal.ReadBusy(ctx, ref.CalendarID, from, to)
				return readErr
			})
			if err != nil {
				return nil, &ProviderError{Provider: ref.Provider, CalendarID: ref.CalendarID, Op: "read_busy", Err: err}
			}
			for _, interval := range busy {
				raw = append(raw, timeline.BusyInterval{Start: interval.Start, End: interval.End, Source: interval.Source})
			}
		}

		// Exclusion must happen on raw intervals: after merging, an interval
		// covering both an own block and a foreign event would be lost whole.
		raw = timeline.ExcludeSource(raw, m.ID)

		tl, err := timeline.NewPartyTimeline(partyID, raw, profile.Hours)
		if err != nil {
			return nil, fmt.Errorf("timeline of party %s: %w", partyID, err)
		}
		timelines = append(timelines, tl)
	}
	return timelines, nil
}

func (s *SchedulingService) resolveCandidates(ctx context.Context, logger *slog.Logger, m meeting.Meeting) ([]engine.CandidateSlot, error) {
	parties, err := s.partyTimelines(ctx, logger, m)
	if err != nil {
		return nil, err
	}
	return s.resolveFromTimelines(ctx, m.Constraints, parties)
}

func (s *SchedulingService) resolveFromTimelines(ctx context.Context, constraints engine.ConstraintSet, parties []timeline.PartyTimeline) ([]engine.CandidateSlot, error) {
	seq, err := engine.FindSlots(constraints, parties)
	if err != nil {
		return nil, err
	}
	slots, err := seq.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return engine.TopK(engine.Rank(slots), s.maxCandidates), nil
}

// bookAll writes the slot's busy block to each party's primary calendar in
// sorted party order, so concurrent confirmations of different meetings
// acquire provider resources in a deterministic sequence. On failure every
// block created so far is deleted before returning.
func (s *SchedulingService) bookAll(ctx context.Context, logger *slog.Logger, m meeting.Meeting, slot engine.CandidateSlot) ([]meeting.Booking, error) {
	parties := append([]string(nil), m.Parties...)
	sort.Strings(parties)

	var created []meeting.Booking
	for _, partyID := range parties {
		profile, err := s.directory.Profile(ctx, partyID)
		if err != nil {
			return s.rollbackBookings(ctx, logger, m, created, err)
		}
		ref := profile.Calendars[0]
		cal, ok := s.providers[ref.Provider]
		if !ok {
			return s.rollbackBookings(ctx, logger, m, created,
				fmt.Errorf("calendar %s of party %s: provider %s: %w", ref.CalendarID, partyID, ref.Provider, ErrUnknownProvider))
		}

		block := provider.Block{
			Start:   slot.Start,
			End:     slot.End,
			Source:  m.ID,
			Summary: "Meeting " + m.ID,
		}
		var providerRef string
		err = s.retry.do(ctx, logger, "create_block", func(ctx context.Context) error {
			var createErr error
			providerRef, createErr = cal.CreateBlock(ctx, ref.CalendarID, block)
			return createErr
		})
		if err != nil {
			return s.rollbackBookings(ctx, logger, m, created,
				&ProviderError{Provider: ref.Provider, CalendarID: ref.CalendarID, Op: "create_block", Err: err})
		}
		created = append(created, meeting.Booking{
			PartyID:     partyID,
			Provider:    ref.Provider,
			CalendarID:  ref.CalendarID,
			ProviderRef: providerRef,
		})
	}
	return created, nil
}

// rollbackBookings deletes the blocks created by a failed confirmation. The
// booking failure is returned as-is when cleanup succeeds; blocks that could
// not be removed escalate to a *RollbackError.
func (s *SchedulingService) rollbackBookings(ctx context.Context, logger *slog.Logger, m meeting.Meeting, created []meeting.Booking, cause error) ([]meeting.Booking, error) {
	orphaned, _ := s.deleteBlocks(ctx, logger, created)
	if len(orphaned) > 0 {
		return nil, &RollbackError{MeetingID: m.ID, Orphaned: orphaned, Err: cause}
	}
	return nil, cause
}

// deleteBlocks removes booked blocks, tolerating already-deleted ones. It runs
// detached from the caller's cancellation so cleanup still happens when the
// triggering request is gone.
func (s *SchedulingService) deleteBlocks(ctx context.Context, logger *slog.Logger, bookings []meeting.Booking) ([]meeting.Booking, error) {
	ctx = context.WithoutCancel(ctx)

	var orphaned []meeting.Booking
	var lastErr error
	for _, booking := range bookings {
		cal, ok := s.providers[booking.Provider]
		if !ok {
			orphaned = append(orphaned, booking)
			lastErr = fmt.Errorf("provider %s: %w", booking.Provider, ErrUnknownProvider)
			continue
		}
		err := s.retry.do(ctx, logger, "delete_block", func(ctx context.Context) error {
			err := cal.DeleteBlock(ctx, booking.CalendarID, booking.ProviderRef)
			if errors.Is(err, provider.ErrBlockNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			orphaned = append(orphaned, booking)
			lastErr = err
			logger.Error("failed to delete calendar block",
				"provider", booking.Provider, "calendar_id", booking.CalendarID, "ref", booking.ProviderRef, "error", err)
		}
	}
	return orphaned, lastErr
}

// requiredTimelines filters to the parties whose availability is a hard
// constraint. An empty required list means every party is required.
func requiredTimelines(constraints engine.ConstraintSet, parties []timeline.PartyTimeline) []timeline.PartyTimeline {
	if len(constraints.RequiredParties) == 0 {
		return parties
	}
	required := make(map[string]struct{}, len(constraints.RequiredParties))
	for _, id := range constraints.RequiredParties {
		required[id] = struct{}{}
	}
	out := make([]timeline.PartyTimeline, 0, len(parties))
	for _, party := range parties {
		if _, ok := required[party.PartyID]; ok {
			out = append(out, party)
		}
	}
	return out
}
