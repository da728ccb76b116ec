package app

import (
	"context"
	"testing"

	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(senders []notifications.Sender) []string {
	out := make([]string, 0, len(senders))
	for _, s := range senders {
		out = append(out, string(s.Type())+"/"+s.Provider())
	}
	return out
}

func TestBuildSenders_NoCredentialsRegistersNothing(t *testing.T) {
	cfg := config.Default()

	senders, err := buildSenders(&cfg)
	require.NoError(t, err)
	assert.Empty(t, senders)
}

func TestBuildSenders_LogProviderIsOptIn(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Providers = []string{"postmark", "log"}
	cfg.SMS.Providers = []string{"log"}

	senders, err := buildSenders(&cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"email/log", "sms/log"}, providers(senders))
}

func TestBuildSenders_ChannelWithoutProviderIsUnsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Providers = []string{"log"}

	senders, err := buildSenders(&cfg)
	require.NoError(t, err)

	dispatcher := notifications.NewDispatcher(notifications.DefaultDispatcherConfig(), nil, nil, nil, senders...)
	assert.True(t, dispatcher.Supports(domain.ChannelTypeEmail))
	assert.False(t, dispatcher.Supports(domain.ChannelTypeSMS))

	result, err := dispatcher.Dispatch(context.Background(), notifications.NotificationRequest{
		UserID:           "6f1c2a9e-4b7d-4e0a-9d52-0f6c8e3b1a27",
		RecipientType:    domain.ChannelTypeSMS,
		RecipientAddress: "+15550100",
		MessageContent:   "disk almost full",
		Priority:         1,
	})
	require.ErrorIs(t, err, notifications.ErrUnsupportedChannel)
	assert.False(t, result.Success)
}

func TestBuildSenders_ConfiguredProvidersInOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Email.Providers = []string{"smtp", "postmark"}
	cfg.Email.FromAddress = "alerts@harborview.example"
	cfg.Email.SMTP.Host = "mail.internal"
	cfg.Email.Postmark.ServerToken = "server-token"
	cfg.SMS.Twilio = config.TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550100",
	}

	senders, err := buildSenders(&cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"email/smtp", "email/postmark", "sms/twilio"}, providers(senders))

	for _, s := range senders {
		assert.IsType(t, &notifications.BreakerSender{}, s)
	}
}

func TestBuildSenders_SkipsUnconfiguredProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Email.FromAddress = "alerts@harborview.example"
	cfg.Email.SMTP.Host = "mail.internal"

	senders, err := buildSenders(&cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"email/smtp"}, providers(senders))
	assert.Equal(t, domain.ChannelTypeEmail, senders[0].Type())
}

func TestBuildSenders_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{
			name:   "unknown email provider",
			modify: func(cfg *config.Config) { cfg.Email.Providers = []string{"sendgrid"} },
		},
		{
			name:   "unknown sms provider",
			modify: func(cfg *config.Config) { cfg.SMS.Providers = []string{"vonage"} },
		},
		{
			name: "postmark without from address",
			modify: func(cfg *config.Config) {
				cfg.Email.Postmark.ServerToken = "server-token"
			},
		},
		{
			name: "twilio without from number",
			modify: func(cfg *config.Config) {
				cfg.SMS.Twilio.AccountSID = "AC123"
				cfg.SMS.Twilio.AuthToken = "secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(&cfg)

			_, err := buildSenders(&cfg)
			require.Error(t, err)
		})
	}
}
