package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

const logWriteTimeout = 5 * time.Second

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	DefaultRateLimitPerHour int
	RateLimitWindow         time.Duration
	DefaultEmailSubject     string
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DefaultRateLimitPerHour: DefaultRateLimitPerHour,
		RateLimitWindow:         time.Hour,
		DefaultEmailSubject:     DefaultEmailSubject,
	}
}

// OutcomePublisher receives every completed delivery attempt.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, entry DeliveryLogEntry) error
}

// Dispatcher delivers a single notification: it resolves the user's
// settings, enforces the hourly rate limit, sends through the channel's
// provider and records the attempt in the delivery log.
type Dispatcher struct {
	config    DispatcherConfig
	settings  SettingsRepository
	logs      DeliveryLogRepository
	renderer  *Renderer
	senders   map[domain.ChannelType][]Sender
	publisher OutcomePublisher
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. For each channel the first sender
// passed is the default provider; later ones are selectable per user.
func NewDispatcher(
	config DispatcherConfig,
	settings SettingsRepository,
	logs DeliveryLogRepository,
	renderer *Renderer,
	senders ...Sender,
) *Dispatcher {
	if config.DefaultRateLimitPerHour <= 0 {
		config.DefaultRateLimitPerHour = DefaultRateLimitPerHour
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Hour
	}
	if config.DefaultEmailSubject == "" {
		config.DefaultEmailSubject = DefaultEmailSubject
	}

	senderMap := make(map[domain.ChannelType][]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = append(senderMap[s.Type()], s)
	}

	return &Dispatcher{
		config:   config,
		settings: settings,
		logs:     logs,
		renderer: renderer,
		senders:  senderMap,
		now:      time.Now,
	}
}

// SetPublisher attaches a publisher for delivery outcomes.
func (d *Dispatcher) SetPublisher(p OutcomePublisher) {
	d.publisher = p
}

// Supports reports whether a sender is registered for channel.
func (d *Dispatcher) Supports(channel domain.ChannelType) bool {
	return len(d.senders[channel]) > 0
}

// Dispatch delivers req. The returned error wraps one of ErrInvalidRequest,
// ErrUnsupportedChannel, ErrSettingsLookup, ErrRateLimitExceeded or
// ErrProviderDelivery; the result always mirrors it.
func (d *Dispatcher) Dispatch(ctx context.Context, req NotificationRequest) (DispatchResult, error) {
	if err := req.validate(); err != nil {
		return failedResult(err), err
	}

	channel := req.RecipientType
	if !d.Supports(channel) {
		err := fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
		recordDispatch(channel.String(), "", "unsupported")
		return failedResult(err), err
	}

	ctx = ctxlog.With(ctx, "user_id", req.UserID, "channel", channel)
	log := ctxlog.FromContext(ctx)

	settings, err := d.resolveSettings(ctx, req.UserID)
	if err != nil {
		recordDispatch(channel.String(), "", "settings_error")
		return failedResult(err), err
	}

	if !req.IsTest {
		if err := d.checkRateLimit(ctx, req.UserID, settings.RateLimitPerHour); err != nil {
			recordDispatch(channel.String(), "", "rate_limited")
			return failedResult(err), err
		}
	}

	notification, err := d.buildNotification(ctx, req, settings)
	if err != nil {
		recordDispatch(channel.String(), "", "invalid")
		return failedResult(err), err
	}

	sender := d.pickSender(ctx, channel, settings.ProviderFor(channel))

	start := d.now()
	sendResult, sendErr := safeSend(ctx, sender, notification)
	duration := d.now().Sub(start)
	recordSendDuration(channel.String(), sender.Provider(), duration)

	entry := DeliveryLogEntry{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		AlertInstanceID: req.AlertInstanceID,
		Channel:         channel,
		Recipient:       notification.To,
		Subject:         notification.Subject,
		Message:         notification.Body,
		Provider:        sender.Provider(),
		Priority:        req.Priority,
		CreatedAt:       d.now(),
	}
	if sendErr != nil {
		entry.DeliveryStatus = DeliveryStatusFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		entry.DeliveryStatus = DeliveryStatusSent
		entry.ProviderMessageID = sendResult.MessageID
	}

	if settings.EnableDeliveryTracking {
		d.writeLog(ctx, &entry)
	}
	d.publish(ctx, entry)

	if sendErr != nil {
		recordDispatch(channel.String(), sender.Provider(), "failed")
		log.Warn("provider delivery failed",
			"provider", sender.Provider(),
			"duration", duration,
			"error", sendErr,
		)
		err := fmt.Errorf("%w: %w", ErrProviderDelivery, sendErr)
		return failedResult(err), err
	}

	recordDispatch(channel.String(), sender.Provider(), "sent")
	log.Debug("notification delivered",
		"provider", sender.Provider(),
		"message_id", sendResult.MessageID,
		"duration", duration,
	)

	return DispatchResult{Success: true, MessageID: sendResult.MessageID}, nil
}

// resolveSettings treats a missing row as defaults and any other error as fatal.
func (d *Dispatcher) resolveSettings(ctx context.Context, userID string) (NotificationSettings, error) {
	s, err := d.settings.GetSettings(ctx, userID)
	if errors.Is(err, ErrSettingsNotFound) {
		return DefaultSettings(userID, d.config.DefaultRateLimitPerHour), nil
	}
	if err != nil {
		return NotificationSettings{}, fmt.Errorf("%w: %w", ErrSettingsLookup, err)
	}

	settings := *s
	if settings.RateLimitPerHour <= 0 {
		settings.RateLimitPerHour = d.config.DefaultRateLimitPerHour
	}
	return settings, nil
}

// checkRateLimit counts every logged attempt in the trailing window. A
// failing count query lets the send through.
func (d *Dispatcher) checkRateLimit(ctx context.Context, userID string, limit int) error {
	since := d.now().Add(-d.config.RateLimitWindow)

	count, err := d.logs.CountUserDeliveriesSince(ctx, userID, since)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("rate limit check failed, allowing send", "error", err)
		return nil
	}

	if count >= limit {
		return fmt.Errorf("%w: %d deliveries in the last %s (limit %d)",
			ErrRateLimitExceeded, count, d.config.RateLimitWindow, limit)
	}
	return nil
}

func (d *Dispatcher) buildNotification(ctx context.Context, req NotificationRequest, settings NotificationSettings) (Notification, error) {
	subject, body := req.Subject, req.MessageContent

	if d.renderer != nil {
		s, b, err := d.renderer.Render(req.RecipientType, req)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("template rendering failed, sending raw message",
				"template_id", req.TemplateID,
				"error", err,
			)
		} else {
			subject, body = s, b
		}
	}

	if body == "" {
		return Notification{}, invalidRequest("message is empty after rendering")
	}

	n := Notification{
		To:   req.RecipientAddress,
		Body: body,
		Tag:  req.TemplateID,
	}

	switch req.RecipientType {
	case domain.ChannelTypeEmail:
		n.Subject = subject
		if n.Subject == "" {
			n.Subject = d.config.DefaultEmailSubject
		}
		n.From = settings.Credentials.Get(domain.ChannelTypeEmail, "from_address")
	case domain.ChannelTypeSMS:
		n.From = settings.Credentials.Get(domain.ChannelTypeSMS, "from_number")
	}

	return n, nil
}

func (d *Dispatcher) pickSender(ctx context.Context, channel domain.ChannelType, preferred string) Sender {
	senders := d.senders[channel]
	if preferred == "" {
		return senders[0]
	}

	for _, s := range senders {
		if s.Provider() == preferred {
			return s
		}
	}

	ctxlog.FromContext(ctx).Warn("preferred provider not configured, using default",
		"preferred", preferred,
		"default", senders[0].Provider(),
	)
	return senders[0]
}

// writeLog records the attempt. It runs even when ctx already expired
// because the attempt happened regardless.
func (d *Dispatcher) writeLog(ctx context.Context, entry *DeliveryLogEntry) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if err := d.logs.CreateDeliveryLog(logCtx, entry); err != nil {
		ctxlog.FromContext(ctx).Error("failed to write delivery log",
			"delivery_status", entry.DeliveryStatus,
			"error", err,
		)
	}
}

func (d *Dispatcher) publish(ctx context.Context, entry DeliveryLogEntry) {
	if d.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if err := d.publisher.PublishOutcome(pubCtx, entry); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to publish delivery outcome", "error", err)
	}
}

// safeSend converts a provider panic into an error.
func safeSend(ctx context.Context, sender Sender, n Notification) (res SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: provider panic: %v", sender.Provider(), r)
		}
	}()
	return sender.Send(ctx, n)
}
