package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/google/uuid"
)

// CreateDeliveryLog inserts a delivery attempt.
func (r *Repository) CreateDeliveryLog(ctx context.Context, entry *notifications.DeliveryLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO notification_delivery_logs (
			id, user_id, alert_instance_id, channel, recipient, subject, message,
			delivery_status, provider, provider_message_id, error_message, priority, created_at
		)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.AlertInstanceID,
		entry.Channel,
		entry.Recipient,
		entry.Subject,
		entry.Message,
		entry.DeliveryStatus,
		entry.Provider,
		entry.ProviderMessageID,
		entry.ErrorMessage,
		entry.Priority,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// CountUserDeliveriesSince counts every attempt for the user after since.
func (r *Repository) CountUserDeliveriesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notification_delivery_logs
		WHERE user_id = $1 AND created_at > $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}

// ListUserDeliveryLogs returns the newest attempts for the user.
func (r *Repository) ListUserDeliveryLogs(ctx context.Context, userID string, limit int) ([]notifications.DeliveryLogEntry, error) {
	query := `
		SELECT id, user_id, COALESCE(alert_instance_id::text, ''), channel, recipient, COALESCE(subject, ''),
		       message, delivery_status, provider, COALESCE(provider_message_id, ''),
		       COALESCE(error_message, ''), priority, created_at
		FROM notification_delivery_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	entries := make([]notifications.DeliveryLogEntry, 0)
	for rows.Next() {
		var e notifications.DeliveryLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.AlertInstanceID,
			&e.Channel,
			&e.Recipient,
			&e.Subject,
			&e.Message,
			&e.DeliveryStatus,
			&e.Provider,
			&e.ProviderMessageID,
			&e.ErrorMessage,
			&e.Priority,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery logs: %w", err)
	}

	return entries, nil
}
