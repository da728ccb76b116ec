// Package sms delivers SMS notifications through the Twilio Messages API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/notifications"
	"golang.org/x/time/rate"
)

// ProviderName identifies this sender in settings and delivery logs.
const ProviderName = "twilio"

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 10 * time.Second
	defaultRate    = 1.0
	// Twilio splits longer bodies into segments and rejects above 1600.
	maxBodyLength = 1600
)

// Config holds Twilio sender configuration.
type Config struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	BaseURL       string
	RatePerSecond float64
	Timeout       time.Duration
}

// Sender implements notifications.Sender for Twilio.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewSender creates a new Twilio sender.
func NewSender(config Config) (*Sender, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("twilio sender: account sid and auth token are required")
	}
	if config.FromNumber == "" {
		return nil, errors.New("twilio sender: from number is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaultRate
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("twilio sender configured",
		"from_number", config.FromNumber,
		"rate_per_second", config.RatePerSecond,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RatePerSecond), 1),
		apiURL: fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
			strings.TrimRight(config.BaseURL, "/"), url.PathEscape(config.AccountSID)),
	}, nil
}

func (s *Sender) Type() domain.ChannelType { return domain.ChannelTypeSMS }

func (s *Sender) Provider() string { return ProviderName }

// Send posts one message. It waits for the account-wide send rate first.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) (notifications.SendResult, error) {
	if notification.To == "" {
		return notifications.SendResult{}, &APIError{Message: "recipient number is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.SendResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	from := s.config.FromNumber
	if notification.From != "" {
		from = notification.From
	}

	form := url.Values{}
	form.Set("To", notification.To)
	form.Set("From", from)
	form.Set("Body", truncate(notification.Body, maxBodyLength))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return notifications.SendResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.SendResult{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, notification.To)
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (s *Sender) handleResponse(resp *http.Response, to string) (notifications.SendResult, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return notifications.SendResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var msg messageResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			return notifications.SendResult{}, fmt.Errorf("decode response: %w", err)
		}
		slog.Debug("sms accepted", "to", maskNumber(to), "sid", msg.SID, "status", msg.Status)
		return notifications.SendResult{MessageID: msg.SID}, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		apiErr.Code = e.Code
		apiErr.Message = e.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return notifications.SendResult{}, apiErr
}

// APIError is a rejected Twilio request.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code > 0:
		return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
	case e.Status > 0:
		return fmt.Sprintf("twilio error (http %d): %s", e.Status, e.Message)
	default:
		return "twilio error: " + e.Message
	}
}

// Temporary reports whether a later retry can succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// maskNumber hides all but the last four digits for logging.
func maskNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
