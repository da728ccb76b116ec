// Package domain contains types shared across the delivery subsystem.
package domain

// ChannelType is the delivery medium of a notification.
type ChannelType string

// Channel types. Push is accepted by the queue but has no sender yet.
const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
	ChannelTypePush  ChannelType = "push"
)

// IsValid reports whether the channel type is a known value.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelTypeEmail, ChannelTypeSMS, ChannelTypePush:
		return true
	default:
		return false
	}
}

func (c ChannelType) String() string {
	return string(c)
}
