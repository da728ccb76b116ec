package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerSender_OpensAfterFailures(t *testing.T) {
	inner := newFakeSender(domain.ChannelTypeEmail, "postmark")
	inner.sendFn = func(Notification) (SendResult, error) {
		return SendResult{}, errProviderDown
	}

	s := NewBreakerSender(inner, circuitbreaker.New("postmark", circuitbreaker.Config{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}))

	assert.Equal(t, domain.ChannelTypeEmail, s.Type())
	assert.Equal(t, "postmark", s.Provider())

	for range 2 {
		_, err := s.Send(context.Background(), Notification{To: "a@x.com"})
		require.ErrorIs(t, err, errProviderDown)
		assert.Contains(t, err.Error(), "postmark: ")
	}

	_, err := s.Send(context.Background(), Notification{To: "a@x.com"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, inner.calls(), 2, "open breaker does not call the provider")
}

func TestBreakerSender_PassesResult(t *testing.T) {
	inner := newFakeSender(domain.ChannelTypeSMS, "twilio")
	s := NewBreakerSender(inner, circuitbreaker.New("twilio", circuitbreaker.DefaultConfig()))

	res, err := s.Send(context.Background(), Notification{To: "+15550100", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "twilio-1", res.MessageID)
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(domain.ChannelTypeSMS)

	assert.Equal(t, domain.ChannelTypeSMS, s.Type())
	assert.Equal(t, "log", s.Provider())

	res, err := s.Send(context.Background(), Notification{To: "+15550100", Body: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
}
