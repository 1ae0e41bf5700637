package notify

import (
	"context"
	"fmt"

	"crits/metrics"

	"go.uber.org/zap"
)

// NotificationStorage persists per-object notifications addressed to users
type NotificationStorage interface {
	RemoveUser(ctx context.Context, objectType, objectID, username string) (int64, error)
	RemoveForObject(ctx context.Context, objectType, objectID string) (int64, error)
}

// SubscriptionStorage persists user subscriptions to objects
type SubscriptionStorage interface {
	RemoveSubscriptions(ctx context.Context, objectType, objectID string) (int64, error)
}

// Notifier manages the notification and subscription state attached to
// top-level objects.
type Notifier struct {
	notifications NotificationStorage
	subscriptions SubscriptionStorage
	logger        *zap.SugaredLogger
}

// NewNotifier creates a new notifier instance
func NewNotifier(notifications NotificationStorage, subscriptions SubscriptionStorage, logger *zap.SugaredLogger) *Notifier {
	if notifications == nil || subscriptions == nil {
		panic("notification and subscription storage are required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{
		notifications: notifications,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// ClearNotification removes username from the recipients of every pending
// notification for the object. Notifications left without recipients are deleted.
func (n *Notifier) ClearNotification(ctx context.Context, objectType, objectID, username string) error {
	cleared, err := n.notifications.RemoveUser(ctx, objectType, objectID, username)
	metrics.NotificationsCleared.WithLabelValues(metrics.ResultLabel(err == nil)).Inc()
	if err != nil {
		return fmt.Errorf("failed to clear notifications for %s %s: %w", objectType, objectID, err)
	}
	if cleared > 0 {
		n.logger.Debugw("Cleared notifications",
			"object_type", objectType,
			"object_id", objectID,
			"user", username,
			"count", cleared)
	}
	return nil
}

// RemoveObject drops every subscription to and notification about a deleted object.
// Both removals are attempted; the first error is returned.
func (n *Notifier) RemoveObject(ctx context.Context, objectType, objectID string) error {
	subs, subErr := n.subscriptions.RemoveSubscriptions(ctx, objectType, objectID)
	notes, noteErr := n.notifications.RemoveForObject(ctx, objectType, objectID)

	if subErr != nil {
		return fmt.Errorf("failed to remove subscriptions for %s %s: %w", objectType, objectID, subErr)
	}
	if noteErr != nil {
		return fmt.Errorf("failed to remove notifications for %s %s: %w", objectType, objectID, noteErr)
	}

	n.logger.Infow("Removed object notification state",
		"object_type", objectType,
		"object_id", objectID,
		"subscriptions", subs,
		"notifications", notes)
	return nil
}
