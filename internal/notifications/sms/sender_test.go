package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing credentials", Config{FromNumber: "+15550100"}, "account sid and auth token"},
		{"missing from number", Config{AccountSID: "AC1", AuthToken: "tok"}, "from number"},
		{"valid", Config{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550100"}, ""},
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
			assert.Equal(t, "https://api.twilio.com/2010-04-01/Accounts/AC1/Messages.json", sender.apiURL)
			assert.Equal(t, rate.Limit(1), sender.limiter.Limit())
			assert.Equal(t, domain.ChannelTypeSMS, sender.Type())
			assert.Equal(t, "twilio", sender.Provider())
		})
	}
}

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := NewSender(Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550100",
		BaseURL:    server.URL,
	})
	require.NoError(t, err)
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	return s
}

func TestSender_Send_Success(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550199", r.PostForm.Get("To"))
		assert.Equal(t, "+15550100", r.PostForm.Get("From"))
		assert.Equal(t, "Occupancy dropped", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(messageResponse{SID: "SM42", Status: "queued"})
	})

	res, err := s.Send(context.Background(), notifications.Notification{To: "+15550199", Body: "Occupancy dropped"})
	require.NoError(t, err)
	assert.Equal(t, "SM42", res.MessageID)
}

func TestSender_Send_FromOverrideAndTruncate(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550111", r.PostForm.Get("From"))
		assert.Len(t, []rune(r.PostForm.Get("Body")), maxBodyLength)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	})

	_, err := s.Send(context.Background(), notifications.Notification{
		To:   "+15550199",
		From: "+15550111",
		Body: strings.Repeat("é", maxBodyLength+20),
	})
	require.NoError(t, err)
}

func TestSender_Send_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		temporary bool
	}{
		{
			name:    "invalid number",
			status:  http.StatusBadRequest,
			body:    `{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`,
			wantMsg: "twilio error 21211 (http 400)",
		},
		{
			name:    "bad credentials",
			status:  http.StatusUnauthorized,
			body:    `{"code":20003,"message":"Authenticate","status":401}`,
			wantMsg: "20003",
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"code":20429,"message":"Too Many Requests","status":429}`,
			wantMsg:   "Too Many Requests",
			temporary: true,
		},
		{
			name:      "gateway error",
			status:    http.StatusBadGateway,
			body:      "upstream unavailable",
			wantMsg:   "(http 502): upstream unavailable",
			temporary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := s.Send(context.Background(), notifications.Notification{To: "+15550199", Body: "hi"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
		})
	}
}

func TestSender_Send_EmptyRecipient(t *testing.T) {
	s := newTestSender(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})

	_, err := s.Send(context.Background(), notifications.Notification{Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient number is empty")
}

func TestSender_Send_RateLimiterHonorsContext(t *testing.T) {
	s := newTestSender(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	s.limiter = rate.NewLimiter(0.001, 1)
	require.True(t, s.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Send(ctx, notifications.Notification{To: "+15550199", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "********0199", maskNumber("+12025550199"))
	assert.Equal(t, "123", maskNumber("123"))
}
