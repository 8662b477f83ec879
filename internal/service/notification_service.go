package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/flowtrack/be-sales-approvals/internal/errors"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

// NotificationService owns the pull-based per-user notification feed.
// Records are produced only by the workflow engine; recipients read and
// mark them via the operations below.
type NotificationService struct {
	store store.Store
	log   *logger.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(st store.Store, log *logger.Logger) *NotificationService {
	return &NotificationService{store: st, log: log}
}

// Emit appends an unread notification addressed to recipient.
func (s *NotificationService) Emit(ctx context.Context, recipient, message, severity, requestID string) error {
	n := &store.Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Read:      false,
		RequestID: requestID,
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to store notification")
	}

	s.log.Debug().
		Str("recipient", recipient).
		Str("severity", severity).
		Str("request_id", requestID).
		Msg("Notification emitted")

	return nil
}

// ListFor returns the recipient's notifications, newest first.
func (s *NotificationService) ListFor(ctx context.Context, recipient string) ([]*store.Notification, error) {
	return s.store.ListNotificationsFor(ctx, recipient)
}

// MarkRead marks one notification as read. Only the recipient may do so;
// re-marking an already-read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipient string) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("notification", id)
		}
		return err
	}
	if n.Recipient != recipient {
		return errors.New(errors.CodeUnauthorized, "notification belongs to another user")
	}
	if n.Read {
		return nil
	}

	n.Read = true
	return s.store.UpdateNotification(ctx, n)
}

// MarkAllRead marks every unread notification of the recipient as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipient string) error {
	all, err := s.store.ListNotificationsFor(ctx, recipient)
	if err != nil {
		return err
	}
	for _, n := range all {
		if n.Read {
			continue
		}
		n.Read = true
		if err := s.store.UpdateNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
