// Package email delivers email notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/google/uuid"
)

// ProviderName identifies this sender in settings and delivery logs.
const ProviderName = "smtp"

const dialTimeout = 10 * time.Second

// Config holds SMTP sender configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
}

// Sender implements notifications.Sender over SMTP with STARTTLS.
type Sender struct {
	config Config
	auth   smtp.Auth
}

// NewSender creates a new SMTP sender.
func NewSender(config Config) (*Sender, error) {
	if config.Host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	if config.Port == 0 {
		config.Port = 587
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	slog.Info("smtp sender configured",
		"smtp_host", config.Host,
		"smtp_port", config.Port,
		"from_address", config.FromAddress,
	)

	return &Sender{
		config: config,
		auth:   auth,
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Provider returns the provider name.
func (s *Sender) Provider() string {
	return ProviderName
}

// Send delivers one email. notification.From overrides the configured
// sender address.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) (notifications.SendResult, error) {
	from := s.config.FromAddress
	if notification.From != "" {
		from = notification.From
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.config.Host)
	msg := buildMessage(from, notification.To, notification.Subject, notification.Body, messageID)
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	if err := s.sendWithSTARTTLS(ctx, addr, tlsConfig, from, notification.To, msg); err != nil {
		return notifications.SendResult{}, err
	}
	return notifications.SendResult{MessageID: messageID}, nil
}

// buildMessage constructs the message with headers in a fixed order.
func buildMessage(from, to, subject, body, messageID string) []byte {
	var msg strings.Builder

	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// sendWithSTARTTLS sends msg, upgrading the connection when the server
// offers STARTTLS.
func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, from, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// net/smtp has no context support; the deadline bounds the whole exchange.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(from)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(extractEmail(to)); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}
