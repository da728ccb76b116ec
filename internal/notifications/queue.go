package notifications

import (
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
)

// QueueStatus represents the status of a queued notification.
type QueueStatus string

// Queue statuses. Sent and failed are terminal.
const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueuedNotification is a unit of work in the delivery queue.
type QueuedNotification struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	AlertInstanceID  string             `json:"alert_instance_id,omitempty"`
	NotificationType domain.ChannelType `json:"notification_type"`
	Recipient        string             `json:"recipient"`
	Subject          string             `json:"subject,omitempty"`
	Message          string             `json:"message"`
	Priority         int                `json:"priority"`
	RetryCount       int                `json:"retry_count"`
	MaxRetries       int                `json:"max_retries"`
	ScheduledFor     time.Time          `json:"scheduled_for"`
	Status           QueueStatus        `json:"status"`
	TemplateData     map[string]any     `json:"template_data,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	SentAt           *time.Time         `json:"sent_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsDue reports whether the item may be picked up at now.
func (n *QueuedNotification) IsDue(now time.Time) bool {
	return n.Status == QueueStatusPending && !n.ScheduledFor.After(now)
}

// Request builds the dispatch request for this item.
func (n *QueuedNotification) Request() NotificationRequest {
	return NotificationRequest{
		UserID:           n.UserID,
		RecipientType:    n.NotificationType,
		RecipientAddress: n.Recipient,
		Subject:          n.Subject,
		MessageContent:   n.Message,
		AlertInstanceID:  n.AlertInstanceID,
		TemplateData:     n.TemplateData,
		Priority:         n.Priority,
	}
}

// EnqueueInput is what external callers provide to queue a notification.
type EnqueueInput struct {
	UserID           string             `json:"user_id" validate:"required,uuid"`
	AlertInstanceID  string             `json:"alert_instance_id,omitempty" validate:"omitempty,uuid"`
	NotificationType domain.ChannelType `json:"notification_type" validate:"required,oneof=email sms push"`
	Recipient        string             `json:"recipient" validate:"required,max=320"`
	Subject          string             `json:"subject,omitempty" validate:"max=998"`
	Message          string             `json:"message" validate:"required"`
	Priority         *int               `json:"priority" validate:"required,min=0"`
	MaxRetries       *int               `json:"max_retries" validate:"required,min=0,max=20"`
	ScheduledFor     *time.Time         `json:"scheduled_for,omitempty"`
	TemplateData     map[string]any     `json:"template_data,omitempty"`
}

// QueueStats holds queue counts by status.
type QueueStats struct {
	Pending int64
	Sent    int64
	Failed  int64
}
