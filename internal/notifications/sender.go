package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Notification is what a Sender delivers.
type Notification struct {
	To      string
	From    string // optional per-user override of the provider's sender
	Subject string
	Body    string
	Tag     string
}

// SendResult is returned by a provider on success.
type SendResult struct {
	MessageID string
}

// Sender delivers notifications over one channel through one provider.
type Sender interface {
	Type() domain.ChannelType
	Provider() string
	Send(ctx context.Context, notification Notification) (SendResult, error)
}

// BreakerSender wraps a Sender with a circuit breaker so that an
// unavailable provider fails fast instead of holding every pass on timeouts.
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps next with breaker.
func NewBreakerSender(next Sender, breaker *gobreaker.CircuitBreaker) *BreakerSender {
	return &BreakerSender{next: next, breaker: breaker}
}

func (s *BreakerSender) Type() domain.ChannelType { return s.next.Type() }

func (s *BreakerSender) Provider() string { return s.next.Provider() }

func (s *BreakerSender) Send(ctx context.Context, notification Notification) (SendResult, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		return s.next.Send(ctx, notification)
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("%s: %w", s.next.Provider(), err)
	}
	return res.(SendResult), nil
}

// LogProviderName selects LogSender in a channel's provider list.
const LogProviderName = "log"

// LogSender writes notifications to the log instead of delivering them.
// It is meant for local setups and is never registered implicitly.
type LogSender struct {
	channel domain.ChannelType
}

// NewLogSender creates a LogSender for channel.
func NewLogSender(channel domain.ChannelType) *LogSender {
	return &LogSender{channel: channel}
}

func (s *LogSender) Type() domain.ChannelType { return s.channel }

func (s *LogSender) Provider() string { return LogProviderName }

func (s *LogSender) Send(ctx context.Context, notification Notification) (SendResult, error) {
	id := uuid.NewString()
	slog.InfoContext(ctx, "notification delivered to log",
		"channel", s.channel,
		"message_id", id,
		"subject", notification.Subject,
		"body_length", len(notification.Body),
	)
	return SendResult{MessageID: id}, nil
}
