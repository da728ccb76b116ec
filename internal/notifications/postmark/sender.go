// Package postmark delivers email notifications through the Postmark API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/mrz1836/postmark"
)

// ProviderName identifies this sender in settings and delivery logs.
const ProviderName = "postmark"

const defaultMessageStream = "outbound"

// Config holds Postmark sender configuration.
type Config struct {
	ServerToken   string
	AccountToken  string
	FromAddress   string
	MessageStream string
	TrackOpens    bool
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL string
}

// Sender implements notifications.Sender using Postmark's transactional API.
type Sender struct {
	client *postmark.Client
	config Config
}

// NewSender creates a Postmark sender.
func NewSender(config Config) (*Sender, error) {
	if config.ServerToken == "" {
		return nil, errors.New("postmark sender: server token is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("postmark sender: from address is required")
	}
	if config.MessageStream == "" {
		config.MessageStream = defaultMessageStream
	}

	client := postmark.NewClient(config.ServerToken, config.AccountToken)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	slog.Info("postmark sender configured",
		"from_address", config.FromAddress,
		"message_stream", config.MessageStream,
	)

	return &Sender{client: client, config: config}, nil
}

func (s *Sender) Type() domain.ChannelType { return domain.ChannelTypeEmail }

func (s *Sender) Provider() string { return ProviderName }

// Send submits one plain text email. A non-zero Postmark error code is a
// delivery failure even when the HTTP call succeeded.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) (notifications.SendResult, error) {
	from := s.config.FromAddress
	if n.From != "" {
		from = n.From
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:          from,
		To:            n.To,
		Subject:       n.Subject,
		TextBody:      n.Body,
		Tag:           n.Tag,
		TrackOpens:    s.config.TrackOpens,
		MessageStream: s.config.MessageStream,
	})
	if err != nil {
		return notifications.SendResult{}, fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return notifications.SendResult{}, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}

	return notifications.SendResult{MessageID: resp.MessageID}, nil
}
