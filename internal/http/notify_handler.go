package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/meeting-broker/internal/provider"
)

type notifyService interface {
	HandleCalendarChange(ctx context.Context, change provider.Change) error
}

// NotifyHandler ingests coarse calendar change notifications. The payload
// names a calendar, not an event, so duplicate and spurious deliveries are
// expected and must be cheap to absorb.
type NotifyHandler struct {
	service   notifyService
	responder responder
}

func NewNotifyHandler(service notifyService, logger *slog.Logger) *NotifyHandler {
	return &NotifyHandler{
		service:   service,
		responder: newResponder(logger),
	}
}

type notifyRequest struct {
	CalendarID string `json:"calendar_id"`
	ChangedAt  string `json:"changed_at"`
}

func (h *NotifyHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	calendarID := strings.TrimSpace(req.CalendarID)
	if calendarID == "" {
		h.responder.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "the request is invalid",
			Errors:  map[string]string{"calendar_id": "a calendar id is required"},
		})
		return
	}

	changedAt := time.Now().UTC()
	if req.ChangedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ChangedAt)
		if err != nil {
			h.responder.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				Message: "the request is invalid",
				Errors:  map[string]string{"changed_at": "must be an RFC 3339 timestamp"},
			})
			return
		}
		changedAt = parsed
	}

	change := provider.Change{CalendarID: calendarID, ChangedAt: changedAt}
	if err := h.service.HandleCalendarChange(ctx, change); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusAccepted, notifyResponse{Status: "accepted"})
}

type notifyResponse struct {
	Status string `json:"status"`
}
