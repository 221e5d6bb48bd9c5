package application

import (
	"context"
	"log/slog"
	"time"
)

// NotificationKind labels the lifecycle event a notification reports.
type NotificationKind string

const (
	NotifyProposed       NotificationKind = "proposed"
	NotifyConfirmed      NotificationKind = "confirmed"
	NotifyConflicted     NotificationKind = "conflicted"
	NotifyRescheduled    NotificationKind = "rescheduled"
	NotifyCancelled      NotificationKind = "cancelled"
	NotifyExpired        NotificationKind = "expired"
	NotifyNeedsAttention NotificationKind = "needs_attention"
)

// Notification is one lifecycle event pushed to the meeting's parties.
type Notification struct {
	MeetingID string
	Kind      NotificationKind
	Message   string
	At        time.Time
}

// Notifier delivers lifecycle notifications. Delivery is best effort; the
// lifecycle never blocks on it.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the structured log. It is the default
// when no external channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := serviceLogger(ctx, l.Logger, "notifier", "notify")
	logger.Info("meeting notification",
		"meeting_id", n.MeetingID, "kind", string(n.Kind), "message", n.Message, "at", n.At.Format(time.RFC3339))
}
