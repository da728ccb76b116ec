// Package postgres provides the PostgreSQL implementation of the
// notifications queue, delivery log and settings stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the notifications store interfaces using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var (
	_ notifications.QueueRepository       = (*Repository)(nil)
	_ notifications.DeliveryLogRepository = (*Repository)(nil)
	_ notifications.SettingsRepository    = (*Repository)(nil)
)

var queueColumns = []string{
	"id", "user_id", "COALESCE(alert_instance_id::text, '')", "notification_type", "recipient",
	"COALESCE(subject, '')", "message", "priority", "retry_count", "max_retries", "scheduled_for",
	"status", "template_data", "COALESCE(error_message, '')", "sent_at", "created_at", "updated_at",
}

// selectQueueColumns returns the queue column list, optionally qualified by alias.
func selectQueueColumns(alias string) string {
	if alias == "" {
		return strings.Join(queueColumns, ", ")
	}

	cols := make([]string, len(queueColumns))
	for i, c := range queueColumns {
		switch {
		case strings.HasPrefix(c, "COALESCE("):
			cols[i] = "COALESCE(" + alias + "." + strings.TrimPrefix(c, "COALESCE(")
		default:
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func scanQueued(row pgx.Row) (*notifications.QueuedNotification, error) {
	var n notifications.QueuedNotification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.AlertInstanceID,
		&n.NotificationType,
		&n.Recipient,
		&n.Subject,
		&n.Message,
		&n.Priority,
		&n.RetryCount,
		&n.MaxRetries,
		&n.ScheduledFor,
		&n.Status,
		&n.TemplateData,
		&n.ErrorMessage,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Enqueue inserts a pending notification.
func (r *Repository) Enqueue(ctx context.Context, n *notifications.QueuedNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = notifications.QueueStatusPending
	}

	query := `
		INSERT INTO notification_queue (
			id, user_id, alert_instance_id, notification_type, recipient, subject, message,
			priority, retry_count, max_retries, scheduled_for, status, template_data
		)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.AlertInstanceID,
		n.NotificationType,
		n.Recipient,
		n.Subject,
		n.Message,
		n.Priority,
		n.RetryCount,
		n.MaxRetries,
		n.ScheduledFor,
		n.Status,
		n.TemplateData,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetByID retrieves a queued notification by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*notifications.QueuedNotification, error) {
	query := `SELECT ` + selectQueueColumns("") + ` FROM notification_queue WHERE id = $1`

	n, err := scanQueued(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notifications.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ClaimDue locks up to limit due rows, skipping rows locked by a concurrent
// pass, and tags them with token until now+lease. scheduled_for is left
// untouched.
func (r *Repository) ClaimDue(ctx context.Context, token string, now time.Time, limit int, lease time.Duration) ([]*notifications.QueuedNotification, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM notification_queue
			WHERE status = 'pending'
			  AND scheduled_for <= $1
			  AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_queue q
		SET claimed_until = $3, claim_token = $4, updated_at = NOW()
		FROM due
		WHERE q.id = due.id
		RETURNING ` + selectQueueColumns("q")

	rows, err := r.db.Query(ctx, query, now, limit, now.Add(lease), token)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var items []*notifications.QueuedNotification
	for rows.Next() {
		n, err := scanQueued(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return items, nil
}

// RenewClaim extends a claim still held under token.
func (r *Repository) RenewClaim(ctx context.Context, id, token string, until time.Time) error {
	query := `
		UPDATE notification_queue
		SET claimed_until = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND claim_token = $2
	`
	result, err := r.db.Exec(ctx, query, id, token, until)
	if err != nil {
		return fmt.Errorf("renew claim: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrClaimLost
	}
	return nil
}

// MarkAsSent marks a pending notification as sent.
func (r *Repository) MarkAsSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, error_message = NULL, claimed_until = NULL, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execResolve(ctx, "mark as sent", query, id, sentAt)
}

// MarkForRetry reschedules a pending notification.
func (r *Repository) MarkForRetry(ctx context.Context, id string, retryCount int, scheduledFor time.Time, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET retry_count = $2, scheduled_for = $3, error_message = $4, claimed_until = NULL, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execResolve(ctx, "mark for retry", query, id, retryCount, scheduledFor, errMsg)
}

// MarkAsFailed marks a pending notification as permanently failed.
func (r *Repository) MarkAsFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', retry_count = $2, error_message = $3, claimed_until = NULL, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	return r.execResolve(ctx, "mark as failed", query, id, retryCount, errMsg)
}

func (r *Repository) execResolve(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrNotPending
	}
	return nil
}

// GetQueueStats returns queue counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	var stats notifications.QueueStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch notifications.QueueStatus(status) {
		case notifications.QueueStatusPending:
			stats.Pending = count
		case notifications.QueueStatusSent:
			stats.Sent = count
		case notifications.QueueStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}

	return &stats, nil
}

// PurgeSentOlderThan deletes sent notifications delivered before the cutoff.
func (r *Repository) PurgeSentOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM notification_queue WHERE status = 'sent' AND sent_at < $1`
	result, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge sent notifications: %w", err)
	}
	return result.RowsAffected(), nil
}
