package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

const (
	defaultDeliveryLogLimit = 50
	maxDeliveryLogLimit     = 500
)

// Service is the entry point used by the HTTP handler and the CLI.
type Service struct {
	queue       QueueRepository
	logs        DeliveryLogRepository
	settings    SettingsRepository
	dispatcher  ItemDispatcher
	processor   PassRunner
	idempotency IdempotencyStore

	defaultRateLimit int
	now              func() time.Time
}

// NewService creates a new notifications service.
func NewService(
	queue QueueRepository,
	logs DeliveryLogRepository,
	settings SettingsRepository,
	dispatcher ItemDispatcher,
	processor PassRunner,
) *Service {
	return &Service{
		queue:            queue,
		logs:             logs,
		settings:         settings,
		dispatcher:       dispatcher,
		processor:        processor,
		defaultRateLimit: DefaultRateLimitPerHour,
		now:              time.Now,
	}
}

// SetIdempotencyStore enables Idempotency-Key handling on Dispatch.
func (s *Service) SetIdempotencyStore(store IdempotencyStore) {
	s.idempotency = store
}

// SetDefaultRateLimit sets the rate limit written into lazily created settings.
func (s *Service) SetDefaultRateLimit(limit int) {
	if limit > 0 {
		s.defaultRateLimit = limit
	}
}

// Enqueue stores a new pending notification. ScheduledFor defaults to now.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*QueuedNotification, error) {
	if !in.NotificationType.IsValid() {
		return nil, invalidRequest(fmt.Sprintf("unknown notification type %q", in.NotificationType))
	}
	if in.Priority == nil || in.MaxRetries == nil {
		return nil, invalidRequest("priority and max_retries are required")
	}

	now := s.now().UTC()
	scheduledFor := now
	if in.ScheduledFor != nil {
		scheduledFor = in.ScheduledFor.UTC()
	}

	n := &QueuedNotification{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		AlertInstanceID:  in.AlertInstanceID,
		NotificationType: in.NotificationType,
		Recipient:        in.Recipient,
		Subject:          in.Subject,
		Message:          in.Message,
		Priority:         *in.Priority,
		MaxRetries:       *in.MaxRetries,
		ScheduledFor:     scheduledFor,
		Status:           QueueStatusPending,
		TemplateData:     in.TemplateData,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.queue.Enqueue(ctx, n); err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}

	ctxlog.FromContext(ctx).Info("notification enqueued",
		"item_id", n.ID,
		"user_id", n.UserID,
		"channel", n.NotificationType,
		"priority", n.Priority,
		"scheduled_for", n.ScheduledFor,
	)

	return n, nil
}

// GetNotification returns a queued notification by id.
func (s *Service) GetNotification(ctx context.Context, id string) (*QueuedNotification, error) {
	return s.queue.GetByID(ctx, id)
}

// ProcessQueue runs one processing pass.
func (s *Service) ProcessQueue(ctx context.Context) (ProcessResult, error) {
	return s.processor.ProcessQueuedNotifications(ctx)
}

// Dispatch delivers req immediately. A non-empty idempotencyKey is reserved
// first; a reused key yields ErrDuplicateRequest. An unreachable store does
// not block delivery. The key is released when delivery fails so the
// caller can retry.
func (s *Service) Dispatch(ctx context.Context, idempotencyKey string, req NotificationRequest) (DispatchResult, error) {
	reserved := false
	if idempotencyKey != "" && s.idempotency != nil {
		ok, err := s.idempotency.Reserve(ctx, idempotencyKey)
		switch {
		case err != nil:
			ctxlog.FromContext(ctx).Warn("idempotency store unavailable", "error", err)
		case !ok:
			return failedResult(ErrDuplicateRequest), ErrDuplicateRequest
		default:
			reserved = true
		}
	}

	result, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil && reserved {
		if relErr := s.idempotency.Release(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
			ctxlog.FromContext(ctx).Warn("failed to release idempotency key", "error", relErr)
		}
	}
	return result, err
}

// ListDeliveryLogs returns the user's most recent delivery attempts.
func (s *Service) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = defaultDeliveryLogLimit
	}
	limit = min(limit, maxDeliveryLogLimit)

	return s.logs.ListUserDeliveryLogs(ctx, userID, limit)
}

// GetSettings returns the user's settings, creating them with defaults if absent.
func (s *Service) GetSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	existing, err := s.settings.GetSettings(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrSettingsNotFound) {
		return nil, err
	}

	defaults := DefaultSettings(userID, s.defaultRateLimit)
	return s.settings.EnsureSettings(ctx, &defaults)
}

// UpdateSettings applies in to the user's settings.
func (s *Service) UpdateSettings(ctx context.Context, userID string, in UpdateSettingsInput) (*NotificationSettings, error) {
	current, err := s.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated := *current
	in.Apply(&updated)

	if err := s.settings.UpsertSettings(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return &updated, nil
}
