package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/jackc/pgx/v5"
)

const settingsColumns = `user_id, email_provider, sms_provider, credentials, rate_limit_per_hour,
	enable_delivery_tracking, created_at, updated_at`

func scanSettings(row pgx.Row) (*notifications.NotificationSettings, error) {
	var s notifications.NotificationSettings
	err := row.Scan(
		&s.UserID,
		&s.EmailProvider,
		&s.SMSProvider,
		&s.Credentials,
		&s.RateLimitPerHour,
		&s.EnableDeliveryTracking,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSettings retrieves the user's notification settings.
func (r *Repository) GetSettings(ctx context.Context, userID string) (*notifications.NotificationSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM notification_settings WHERE user_id = $1`

	s, err := scanSettings(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notifications.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return s, nil
}

// EnsureSettings inserts defaults when the user has no row and returns
// whatever row is stored afterwards.
func (r *Repository) EnsureSettings(ctx context.Context, defaults *notifications.NotificationSettings) (*notifications.NotificationSettings, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := `
		INSERT INTO notification_settings (user_id, email_provider, sms_provider, credentials, rate_limit_per_hour, enable_delivery_tracking)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert,
		defaults.UserID,
		defaults.EmailProvider,
		defaults.SMSProvider,
		credentialsOrEmpty(defaults.Credentials),
		defaults.RateLimitPerHour,
		defaults.EnableDeliveryTracking,
	); err != nil {
		return nil, fmt.Errorf("insert default settings: %w", err)
	}

	query := `SELECT ` + settingsColumns + ` FROM notification_settings WHERE user_id = $1`
	s, err := scanSettings(tx.QueryRow(ctx, query, defaults.UserID))
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s, nil
}

// UpsertSettings creates or replaces the user's settings.
func (r *Repository) UpsertSettings(ctx context.Context, s *notifications.NotificationSettings) error {
	query := `
		INSERT INTO notification_settings (user_id, email_provider, sms_provider, credentials, rate_limit_per_hour, enable_delivery_tracking)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			email_provider = EXCLUDED.email_provider,
			sms_provider = EXCLUDED.sms_provider,
			credentials = EXCLUDED.credentials,
			rate_limit_per_hour = EXCLUDED.rate_limit_per_hour,
			enable_delivery_tracking = EXCLUDED.enable_delivery_tracking,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		s.UserID,
		s.EmailProvider,
		s.SMSProvider,
		credentialsOrEmpty(s.Credentials),
		s.RateLimitPerHour,
		s.EnableDeliveryTracking,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func credentialsOrEmpty(c notifications.Credentials) notifications.Credentials {
	if c == nil {
		return notifications.Credentials{}
	}
	return c
}
