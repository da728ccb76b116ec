package email

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing host",
			config:  Config{FromAddress: "test@example.com"},
			wantErr: "host is required",
		},
		{
			name:    "missing from address",
			config:  Config{Host: "smtp.example.com"},
			wantErr: "from address is required",
		},
		{
			name:   "valid config",
			config: Config{Host: "smtp.example.com", FromAddress: "test@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sender)
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(Config{Host: "smtp.example.com", FromAddress: "test@example.com"})
	require.NoError(t, err)

	assert.Equal(t, 587, sender.config.Port)
	assert.Nil(t, sender.auth)
	assert.Equal(t, domain.ChannelTypeEmail, sender.Type())
	assert.Equal(t, "smtp", sender.Provider())
}

func TestNewSender_AuthSetup(t *testing.T) {
	sender, err := NewSender(Config{
		Host:        "smtp.example.com",
		FromAddress: "test@example.com",
		User:        "user",
		Password:    "pass",
	})
	require.NoError(t, err)
	assert.NotNil(t, sender.auth)
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"user@example.com", "user@example.com"},
		{"Test User <user@example.com>", "user@example.com"},
		{"<user@example.com>", "user@example.com"},
		{"Alerts <noreply@alerts.example.com>", "noreply@alerts.example.com"},
		{"invalid<", "invalid<"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractEmail(tt.input))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("Alerts <noreply@example.com>", "a@x.com", "Test Subject", "Test body", "<id@host>"))

	assert.Contains(t, msg, "From: Alerts <noreply@example.com>\r\n")
	assert.Contains(t, msg, "To: a@x.com\r\n")
	assert.Contains(t, msg, "Subject: Test Subject\r\n")
	assert.Contains(t, msg, "Message-ID: <id@host>\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nTest body"))
}

// fakeSMTP is a minimal plaintext SMTP server that records one session.
type fakeSMTP struct {
	listener net.Listener
	rejectTo string

	mu       sync.Mutex
	mailFrom string
	rcptTo   string
	data     string
}

func startFakeSMTP(t *testing.T, rejectTo string) *fakeSMTP {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s := &fakeSMTP{listener: l, rejectTo: rejectTo}
	go s.serve()
	return s
}

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-fake")
			reply("250 8BITMIME")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.mailFrom = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			rcpt := strings.Trim(cmd[len("RCPT TO:"):], "<> ")
			if rcpt == s.rejectTo {
				reply("550 mailbox unavailable")
				continue
			}
			s.mu.Lock()
			s.rcptTo = rcpt
			s.mu.Unlock()
			reply("250 OK")
		case upper == "DATA":
			reply("354 end with .")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *fakeSMTP) sender(t *testing.T) *Sender {
	t.Helper()

	host, port, err := net.SplitHostPort(s.listener.Addr().String())
	require.NoError(t, err)
	p, err := net.LookupPort("tcp", port)
	require.NoError(t, err)

	sender, err := NewSender(Config{Host: host, Port: p, FromAddress: "Alerts <alerts@example.com>"})
	require.NoError(t, err)
	return sender
}

func TestSender_Send(t *testing.T) {
	srv := startFakeSMTP(t, "")
	sender := srv.sender(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := sender.Send(ctx, notifications.Notification{
		To:      "a@x.com",
		Subject: "Occupancy alert",
		Body:    "Occupancy dropped to 81%",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.MessageID, "<"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "alerts@example.com", srv.mailFrom)
	assert.Equal(t, "a@x.com", srv.rcptTo)
	assert.Contains(t, srv.data, "Subject: Occupancy alert")
	assert.Contains(t, srv.data, "Message-ID: "+res.MessageID)
	assert.Contains(t, srv.data, "Occupancy dropped to 81%")
}

func TestSender_SendFromOverride(t *testing.T) {
	srv := startFakeSMTP(t, "")

	_, err := srv.sender(t).Send(context.Background(), notifications.Notification{
		To:   "a@x.com",
		From: "Harbor Ops <ops@harbor.example>",
		Body: "hi",
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "ops@harbor.example", srv.mailFrom)
	assert.Contains(t, srv.data, "From: Harbor Ops <ops@harbor.example>")
}

func TestSender_SendRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, "nobody@x.com")

	_, err := srv.sender(t).Send(context.Background(), notifications.Notification{To: "nobody@x.com", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
}

func TestSender_SendDialError(t *testing.T) {
	sender, err := NewSender(Config{Host: "127.0.0.1", Port: 1, FromAddress: "a@example.com"})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), notifications.Notification{To: "a@x.com", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial smtp")
}
