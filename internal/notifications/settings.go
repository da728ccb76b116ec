package notifications

import (
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
)

// Defaults applied when a user has no settings row.
const (
	DefaultRateLimitPerHour       = 100
	DefaultEnableDeliveryTracking = true
)

// Credentials holds per-channel provider overrides, for example
// {"email": {"from_address": "ops@example.com"}, "sms": {"from_number": "+15550100"}}.
type Credentials map[string]map[string]string

// Get returns the value of key for channel, or "".
func (c Credentials) Get(channel domain.ChannelType, key string) string {
	if c == nil {
		return ""
	}
	return c[string(channel)][key]
}

// NotificationSettings is the per-user delivery configuration.
type NotificationSettings struct {
	UserID                 string      `json:"user_id"`
	EmailProvider          string      `json:"email_provider"`
	SMSProvider            string      `json:"sms_provider"`
	Credentials            Credentials `json:"credentials"`
	RateLimitPerHour       int         `json:"rate_limit_per_hour"`
	EnableDeliveryTracking bool        `json:"enable_delivery_tracking"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// DefaultSettings returns the settings used for users without a row.
func DefaultSettings(userID string, rateLimitPerHour int) NotificationSettings {
	if rateLimitPerHour <= 0 {
		rateLimitPerHour = DefaultRateLimitPerHour
	}
	return NotificationSettings{
		UserID:                 userID,
		Credentials:            Credentials{},
		RateLimitPerHour:       rateLimitPerHour,
		EnableDeliveryTracking: DefaultEnableDeliveryTracking,
	}
}

// ProviderFor returns the provider the user selected for channel, if any.
func (s NotificationSettings) ProviderFor(channel domain.ChannelType) string {
	switch channel {
	case domain.ChannelTypeEmail:
		return s.EmailProvider
	case domain.ChannelTypeSMS:
		return s.SMSProvider
	default:
		return ""
	}
}

// UpdateSettingsInput is the body of a settings update.
type UpdateSettingsInput struct {
	EmailProvider          *string     `json:"email_provider" validate:"omitempty,max=64"`
	SMSProvider            *string     `json:"sms_provider" validate:"omitempty,max=64"`
	Credentials            Credentials `json:"credentials"`
	RateLimitPerHour       *int        `json:"rate_limit_per_hour" validate:"omitempty,min=1,max=100000"`
	EnableDeliveryTracking *bool       `json:"enable_delivery_tracking"`
}

// Apply merges the input into s.
func (in UpdateSettingsInput) Apply(s *NotificationSettings) {
	if in.EmailProvider != nil {
		s.EmailProvider = *in.EmailProvider
	}
	if in.SMSProvider != nil {
		s.SMSProvider = *in.SMSProvider
	}
	if in.Credentials != nil {
		s.Credentials = in.Credentials
	}
	if in.RateLimitPerHour != nil {
		s.RateLimitPerHour = *in.RateLimitPerHour
	}
	if in.EnableDeliveryTracking != nil {
		s.EnableDeliveryTracking = *in.EnableDeliveryTracking
	}
}
