// Package notifications implements the notification delivery queue: the
// queue store contracts, the batch processor that drains it and the
// dispatcher that delivers a single notification.
package notifications

import (
	"context"
	"time"
)

// QueueRepository is the durable queue of notifications.
type QueueRepository interface {
	Enqueue(ctx context.Context, n *QueuedNotification) error
	GetByID(ctx context.Context, id string) (*QueuedNotification, error)

	// ClaimDue returns up to limit due items ordered by priority then
	// creation time and hides them from other passes until now+lease.
	// The claim is tagged with token.
	ClaimDue(ctx context.Context, token string, now time.Time, limit int, lease time.Duration) ([]*QueuedNotification, error)
	// RenewClaim extends the claim held under token to until. It returns
	// ErrClaimLost when the item is no longer pending under that token.
	RenewClaim(ctx context.Context, id, token string, until time.Time) error

	// Resolving updates apply only to pending rows and return ErrNotPending otherwise.
	MarkAsSent(ctx context.Context, id string, sentAt time.Time) error
	MarkForRetry(ctx context.Context, id string, retryCount int, scheduledFor time.Time, errMsg string) error
	MarkAsFailed(ctx context.Context, id string, retryCount int, errMsg string) error

	GetQueueStats(ctx context.Context) (*QueueStats, error)
	PurgeSentOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// DeliveryLogRepository stores delivery attempts. Entries are insert-only.
type DeliveryLogRepository interface {
	CreateDeliveryLog(ctx context.Context, entry *DeliveryLogEntry) error
	CountUserDeliveriesSince(ctx context.Context, userID string, since time.Time) (int, error)
	ListUserDeliveryLogs(ctx context.Context, userID string, limit int) ([]DeliveryLogEntry, error)
}

// SettingsRepository stores per-user notification settings.
type SettingsRepository interface {
	// GetSettings returns ErrSettingsNotFound when the user has no row.
	GetSettings(ctx context.Context, userID string) (*NotificationSettings, error)
	// EnsureSettings inserts defaults unless a row exists and returns the stored row.
	EnsureSettings(ctx context.Context, defaults *NotificationSettings) (*NotificationSettings, error)
	UpsertSettings(ctx context.Context, settings *NotificationSettings) error
}
