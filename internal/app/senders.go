package app

import (
	"fmt"
	"log/slog"

	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/notifications/email"
	"github.com/bissquit/alert-relay/internal/notifications/postmark"
	"github.com/bissquit/alert-relay/internal/notifications/sms"
	"github.com/bissquit/alert-relay/internal/pkg/circuitbreaker"
)

// buildSenders creates the provider senders in the configured order, each
// behind its own circuit breaker. The "log" provider only writes to the log
// and must be listed explicitly. A channel with no usable provider gets no
// sender, so dispatch rejects it as unsupported.
func buildSenders(cfg *config.Config) ([]notifications.Sender, error) {
	breakerCfg := circuitbreaker.Config{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	}
	guard := func(s notifications.Sender) notifications.Sender {
		name := fmt.Sprintf("%s.%s", s.Type(), s.Provider())
		return notifications.NewBreakerSender(s, circuitbreaker.New(name, breakerCfg))
	}

	var senders []notifications.Sender

	emailCount := 0
	for _, name := range cfg.Email.Providers {
		var s notifications.Sender
		switch name {
		case postmark.ProviderName:
			if cfg.Email.Postmark.ServerToken == "" {
				continue
			}
			ps, err := postmark.NewSender(postmark.Config{
				ServerToken:   cfg.Email.Postmark.ServerToken,
				AccountToken:  cfg.Email.Postmark.AccountToken,
				FromAddress:   cfg.Email.FromAddress,
				MessageStream: cfg.Email.Postmark.MessageStream,
				TrackOpens:    cfg.Email.Postmark.TrackOpens,
			})
			if err != nil {
				return nil, err
			}
			s = ps
		case email.ProviderName:
			if cfg.Email.SMTP.Host == "" {
				continue
			}
			es, err := email.NewSender(email.Config{
				Host:        cfg.Email.SMTP.Host,
				Port:        cfg.Email.SMTP.Port,
				User:        cfg.Email.SMTP.User,
				Password:    cfg.Email.SMTP.Password,
				FromAddress: cfg.Email.FromAddress,
			})
			if err != nil {
				return nil, err
			}
			s = es
		case notifications.LogProviderName:
			senders = append(senders, notifications.NewLogSender(domain.ChannelTypeEmail))
			emailCount++
			continue
		default:
			return nil, fmt.Errorf("unknown email provider %q", name)
		}
		senders = append(senders, guard(s))
		emailCount++
	}
	if emailCount == 0 {
		slog.Warn("no email provider configured: email notifications will be rejected")
	}

	smsCount := 0
	for _, name := range cfg.SMS.Providers {
		switch name {
		case sms.ProviderName:
			if cfg.SMS.Twilio.AccountSID == "" {
				continue
			}
			ts, err := sms.NewSender(sms.Config{
				AccountSID:    cfg.SMS.Twilio.AccountSID,
				AuthToken:     cfg.SMS.Twilio.AuthToken,
				FromNumber:    cfg.SMS.Twilio.FromNumber,
				BaseURL:       cfg.SMS.Twilio.BaseURL,
				RatePerSecond: cfg.SMS.RatePerSecond,
			})
			if err != nil {
				return nil, err
			}
			senders = append(senders, guard(ts))
			smsCount++
		case notifications.LogProviderName:
			senders = append(senders, notifications.NewLogSender(domain.ChannelTypeSMS))
			smsCount++
		default:
			return nil, fmt.Errorf("unknown sms provider %q", name)
		}
	}
	if smsCount == 0 {
		slog.Warn("no sms provider configured: sms notifications will be rejected")
	}

	return senders, nil
}
