package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/meeting-broker/internal/application"
	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/meeting"
)

var (
	errBadRequestBody  = errors.New("the request body could not be parsed")
	errInvalidMeeting  = errors.New("a meeting id is required")
	errMissingAPIToken = errors.New("an API token is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError translates application errors into HTTP responses. A
// confirmation race gets a dedicated payload carrying the refreshed candidate
// list so clients can choose again immediately.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	switch {
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "the requested resource was not found"})
		return
	case errors.Is(err, application.ErrMeetingClosed):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "MEETING_CLOSED",
			Message:   "the meeting lifecycle has already ended",
		})
		return
	case errors.Is(err, application.ErrUnknownParty):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Message: "a referenced party is not in the directory"})
		return
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "the request is invalid",
			Errors:  vErr.FieldErrors,
		})
		return
	}

	var cErr *engine.ConstraintError
	if errors.As(err, &cErr) {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "INCONSISTENT_CONSTRAINTS",
			Message:   "the meeting constraints are inconsistent",
			Errors:    map[string]string{"constraints": strings.Join(cErr.Reasons, "; ")},
		})
		return
	}

	var confErr *application.ConflictError
	if errors.As(err, &confErr) {
		r.writeJSON(ctx, w, http.StatusConflict, conflictResponse{
			ErrorCode:  "SLOT_TAKEN",
			Message:    "the selected slot is no longer available",
			Candidates: toCandidateDTOs(confErr.Refreshed),
		})
		return
	}

	var tErr *meeting.InvalidTransitionError
	if errors.As(err, &tErr) {
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_STATE",
			Message:   "the meeting state does not allow this operation",
		})
		return
	}

	var rbErr *application.RollbackError
	if errors.As(err, &rbErr) {
		r.loggerFor(ctx).ErrorContext(ctx, "rollback failed", "error", err)
		r.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{
			ErrorCode: "ROLLBACK_FAILED",
			Message:   "a calendar provider failed and cleanup is incomplete; the meeting is flagged for attention",
		})
		return
	}

	var pErr *application.ProviderError
	if errors.As(err, &pErr) {
		r.loggerFor(ctx).ErrorContext(ctx, "provider failure", "error", err)
		r.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{
			ErrorCode: "PROVIDER_FAILURE",
			Message:   "an upstream calendar provider failed",
		})
		return
	}

	r.loggerFor(ctx).ErrorContext(ctx, "unexpected error", "error", err)
	r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "an internal error occurred"})
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type conflictResponse struct {
	ErrorCode  string         `json:"error_code"`
	Message    string         `json:"message"`
	Candidates []candidateDTO `json:"candidates"`
}
