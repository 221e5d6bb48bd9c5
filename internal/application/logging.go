package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/meeting-broker/internal/engine"
	"github.com/example/meeting-broker/internal/logging"
	"github.com/example/meeting-broker/internal/meeting"
	"github.com/example/meeting-broker/internal/persistence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and structured errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMeetingClosed):
		return "meeting_closed"
	case errors.Is(err, ErrUnknownParty):
		return "unknown_party"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, persistence.ErrDuplicate):
		return "already_exists"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var cErr *engine.ConstraintError
	if errors.As(err, &cErr) {
		return "constraint"
	}
	var confErr *ConflictError
	if errors.As(err, &confErr) {
		return "conflict"
	}
	var rErr *RollbackError
	if errors.As(err, &rErr) {
		return "rollback"
	}
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return "provider"
	}
	var tErr *meeting.InvalidTransitionError
	if errors.As(err, &tErr) {
		return "invalid_transition"
	}

	return "unexpected"
}
