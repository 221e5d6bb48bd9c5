package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/meeting-broker/internal/application"
	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
)

type meetingService interface {
	RequestMeeting(ctx context.Context, params application.RequestMeetingParams) (meeting.Meeting, error)
	GetMeeting(ctx context.Context, meetingID string) (meeting.Meeting, error)
	ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]meeting.Meeting, error)
	ListCandidates(ctx context.Context, meetingID string) ([]engine.CandidateSlot, error)
	ConfirmSlot(ctx context.Context, meetingID string, slotIndex int) (meeting.Meeting, error)
	CancelMeeting(ctx context.Context, meetingID, reason string) (meeting.Meeting, error)
}

type MeetingHandler struct {
	service   meetingService
	responder responder
}

func NewMeetingHandler(service meetingService, logger *slog.Logger) *MeetingHandler {
	return &MeetingHandler{
		service:   service,
		responder: newResponder(logger),
	}
}

type meetingRequest struct {
	Parties         []string `json:"parties"`
	DurationMinutes int      `json:"duration_minutes"`
	EarliestStart   string   `json:"earliest_start"`
	LatestStart     string   `json:"latest_start"`
	BufferBefore    int      `json:"buffer_before_minutes,omitempty"`
	BufferAfter     int      `json:"buffer_after_minutes,omitempty"`
	BlackoutDates   []string `json:"blackout_dates,omitempty"`
	RequiredParties []string `json:"required_parties,omitempty"`
	StepMinutes     int      `json:"step_minutes,omitempty"`
	PreferredWindow *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"preferred_window,omitempty"`
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req meetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	params, vErr := req.toParams()
	if vErr.HasErrors() {
		h.responder.handleServiceError(ctx, w, vErr)
		return
	}

	created, err := h.service.RequestMeeting(ctx, params)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusCreated, toMeetingDTO(created))
}

func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter persistence.MeetingFilter
	if state := strings.TrimSpace(r.URL.Query().Get("state")); state != "" {
		filter.States = []meeting.State{meeting.State(state)}
	}
	filter.PartyID = strings.TrimSpace(r.URL.Query().Get("party"))

	meetings, err := h.service.ListMeetings(ctx, filter)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	dtos := make([]meetingDTO, 0, len(meetings))
	for _, m := range meetings {
		dtos = append(dtos, toMeetingDTO(m))
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, meetingListResponse{Meetings: dtos})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := MeetingIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidMeeting)
		return
	}

	m, err := h.service.GetMeeting(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, toMeetingDTO(m))
}

func (h *MeetingHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := MeetingIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidMeeting)
		return
	}

	slots, err := h.service.ListCandidates(ctx, id)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, candidateListResponse{
		MeetingID:  id,
		Candidates: toCandidateDTOs(slots),
	})
}

type confirmRequest struct {
	SlotIndex int `json:"slot_index"`
}

func (h *MeetingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := MeetingIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidMeeting)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	m, err := h.service.ConfirmSlot(ctx, id, req.SlotIndex)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, toMeetingDTO(m))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := MeetingIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidMeeting)
		return
	}

	var req cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
			return
		}
	}

	m, err := h.service.CancelMeeting(ctx, id, strings.TrimSpace(req.Reason))
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, toMeetingDTO(m))
}

// toParams maps the request payload into service parameters. Shape problems
// that cannot be expressed in JSON types (unparseable timestamps, malformed
// clock values) are rejected here; semantic validation stays in the service.
func (req meetingRequest) toParams() (application.RequestMeetingParams, *application.ValidationError) {
	vErr := &application.ValidationError{}

	constraints := engine.ConstraintSet{
		Duration:        time.Duration(req.DurationMinutes) * time.Minute,
		BufferBefore:    time.Duration(req.BufferBefore) * time.Minute,
		BufferAfter:     time.Duration(req.BufferAfter) * time.Minute,
		RequiredParties: req.RequiredParties,
		Step:            time.Duration(req.StepMinutes) * time.Minute,
	}

	if earliest, err := time.Parse(time.RFC3339, req.EarliestStart); err != nil {
		vErr.Add("earliest_start", "must be an RFC 3339 timestamp")
	} else {
		constraints.EarliestStart = earliest
	}
	if latest, err := time.Parse(time.RFC3339, req.LatestStart); err != nil {
		vErr.Add("latest_start", "must be an RFC 3339 timestamp")
	} else {
		constraints.LatestStart = latest
	}

	for _, day := range req.BlackoutDates {
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			vErr.Add("blackout_dates", "each entry must be a YYYY-MM-DD date")
			break
		}
		constraints.BlackoutDates = append(constraints.BlackoutDates, parsed)
	}

	if req.PreferredWindow != nil {
		start, startErr := parseClockMinute(req.PreferredWindow.Start)
		end, endErr := parseClockMinute(req.PreferredWindow.End)
		if startErr != nil || endErr != nil {
			vErr.Add("preferred_window", "start and end must be HH:MM clock values")
		} else {
			constraints.PreferredWindow = &engine.ClockWindow{StartMinute: start, EndMinute: end}
		}
	}

	if vErr.HasErrors() {
		return application.RequestMeetingParams{}, vErr
	}
	return application.RequestMeetingParams{
		Parties:     req.Parties,
		Constraints: constraints,
	}, vErr
}

func parseClockMinute(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

type meetingDTO struct {
	ID                 string          `json:"id"`
	State              string          `json:"state"`
	Parties            []string        `json:"parties"`
	Candidates         []candidateDTO  `json:"candidates"`
	CommittedSlot      *candidateDTO   `json:"committed_slot,omitempty"`
	Bookings           []bookingDTO    `json:"bookings,omitempty"`
	NeedsAttention     bool            `json:"needs_attention"`
	ResolutionAttempts int             `json:"resolution_attempts"`
	History            []eventDTO      `json:"history"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type candidateDTO struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Score        float64   `json:"score"`
	ViolatedSoft []string  `json:"violated_soft,omitempty"`
}

type bookingDTO struct {
	PartyID     string `json:"party_id"`
	Provider    string `json:"provider"`
	CalendarID  string `json:"calendar_id"`
	ProviderRef string `json:"provider_ref"`
}

type eventDTO struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
	Cause string    `json:"cause"`
}

type meetingListResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type candidateListResponse struct {
	MeetingID  string         `json:"meeting_id"`
	Candidates []candidateDTO `json:"candidates"`
}

func toMeetingDTO(m meeting.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:                 m.ID,
		State:              string(m.State),
		Parties:            m.Parties,
		Candidates:         toCandidateDTOs(m.Candidates),
		NeedsAttention:     m.NeedsAttention,
		ResolutionAttempts: m.ResolutionAttempts,
		History:            make([]eventDTO, 0, len(m.History)),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}

	if m.CommittedSlot != nil {
		slot := toCandidateDTO(*m.CommittedSlot)
		dto.CommittedSlot = &slot
	}
	for _, b := range m.Bookings {
		dto.Bookings = append(dto.Bookings, bookingDTO{
			PartyID:     b.PartyID,
			Provider:    b.Provider,
			CalendarID:  b.CalendarID,
			ProviderRef: b.ProviderRef,
		})
	}
	for _, e := range m.History {
		dto.History = append(dto.History, eventDTO{
			From:  string(e.From),
			To:    string(e.To),
			At:    e.At,
			Cause: e.Cause,
		})
	}
	return dto
}

func toCandidateDTO(slot engine.CandidateSlot) candidateDTO {
	return candidateDTO{
		Start:        slot.Start,
		End:          slot.End,
		Score:        slot.Score,
		ViolatedSoft: slot.ViolatedSoft,
	}
}

func toCandidateDTOs(slots []engine.CandidateSlot) []candidateDTO {
	dtos := make([]candidateDTO, 0, len(slots))
	for _, slot := range slots {
		dtos = append(dtos, toCandidateDTO(slot))
	}
	return dtos
}
