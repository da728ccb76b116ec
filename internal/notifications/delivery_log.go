package notifications

import (
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
)

// DeliveryStatus is the outcome recorded for one delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryLogEntry is an immutable record of one delivery attempt.
type DeliveryLogEntry struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	AlertInstanceID   string             `json:"alert_instance_id,omitempty"`
	Channel           domain.ChannelType `json:"channel"`
	Recipient         string             `json:"recipient"`
	Subject           string             `json:"subject,omitempty"`
	Message           string             `json:"message"`
	DeliveryStatus    DeliveryStatus     `json:"delivery_status"`
	Provider          string             `json:"provider"`
	ProviderMessageID string             `json:"provider_message_id,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Priority          int                `json:"priority"`
	CreatedAt         time.Time          `json:"created_at"`
}
