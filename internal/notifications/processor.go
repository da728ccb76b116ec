package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// ProcessorConfig contains queue processor configuration.
type ProcessorConfig struct {
	BatchSize         int
	DispatchTimeout   time.Duration
	ClaimLease        time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultProcessorConfig returns default processor configuration.
// Backoff yields 2, 4, 8 ... minutes for retries 1, 2, 3.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         50,
		DispatchTimeout:   30 * time.Second,
		ClaimLease:        5 * time.Minute,
		InitialBackoff:    2 * time.Minute,
		MaxBackoff:        24 * time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// ItemDispatcher delivers one queued notification.
type ItemDispatcher interface {
	Dispatch(ctx context.Context, req NotificationRequest) (DispatchResult, error)
}

// ProcessResult reports one pass. Rescheduled items count in neither
// Processed nor Failed.
type ProcessResult struct {
	Processed   int
	Failed      int
	Rescheduled int
}

// Processor drains due notifications from the queue. It keeps no state
// between passes; concurrent passes are kept apart by the store's claim.
type Processor struct {
	config     ProcessorConfig
	repo       QueueRepository
	dispatcher ItemDispatcher
	now        func() time.Time
}

// NewProcessor creates a queue processor.
func NewProcessor(config ProcessorConfig, repo QueueRepository, dispatcher ItemDispatcher) *Processor {
	def := DefaultProcessorConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = def.DispatchTimeout
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = def.ClaimLease
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}

	return &Processor{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

type itemOutcome string

const (
	outcomeSent    itemOutcome = "sent"
	outcomeRetry   itemOutcome = "retry"
	outcomeFailed  itemOutcome = "failed"
	outcomeSkipped itemOutcome = "skipped"
	outcomeError   itemOutcome = "error"
)

// ProcessQueuedNotifications runs one pass: it claims up to BatchSize due
// items in (priority, created_at) order and resolves each one sequentially.
// Only a failure to claim the batch is returned as an error.
//
// Once claimed, every item is worked to completion even if ctx is cancelled.
// Each item's claim is renewed right before it is dispatched, so an item
// whose batch lease ran out and was picked up by another pass is skipped.
func (p *Processor) ProcessQueuedNotifications(ctx context.Context) (ProcessResult, error) {
	start := p.now()
	defer func() { recordPassDuration(p.now().Sub(start)) }()

	token := uuid.NewString()
	items, err := p.repo.ClaimDue(ctx, token, start, p.config.BatchSize, p.config.ClaimLease)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("claim due notifications: %w", err)
	}

	var result ProcessResult
	if len(items) == 0 {
		return result, nil
	}

	sortByPriority(items)
	recordQueueClaimed(len(items))
	ctxlog.FromContext(ctx).Debug("processing notifications", "count", len(items))

	callerCtx := ctx
	ctx = context.WithoutCancel(ctx)

	for _, item := range items {
		switch p.processItem(ctx, token, item) {
		case outcomeSent:
			result.Processed++
		case outcomeFailed:
			result.Failed++
		case outcomeRetry:
			result.Rescheduled++
		}
	}

	if callerCtx.Err() != nil {
		ctxlog.FromContext(ctx).Warn("caller went away during pass; claimed items were still resolved")
	}

	ctxlog.FromContext(ctx).Info("notification pass completed",
		"claimed", len(items),
		"processed", result.Processed,
		"failed", result.Failed,
		"rescheduled", result.Rescheduled,
		"duration", p.now().Sub(start),
	)

	return result, nil
}

// sortByPriority orders items by priority ascending then creation time.
// The store already returns them in this order; UPDATE ... RETURNING does
// not guarantee it.
func sortByPriority(items []*QueuedNotification) {
	slices.SortStableFunc(items, func(a, b *QueuedNotification) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func (p *Processor) processItem(ctx context.Context, token string, item *QueuedNotification) (outcome itemOutcome) {
	ctx = ctxlog.With(ctx, "item_id", item.ID)
	log := ctxlog.FromContext(ctx)

	var held, delivered bool
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing notification", "panic", r)
			outcome = outcomeError
			// A delivered item must not be retried; anything else held by
			// this pass is recorded as a failed attempt.
			if held && !delivered {
				outcome = p.failAfterPanic(ctx, item, fmt.Errorf("processing panic: %v", r))
			}
		}
		recordQueueItem(string(outcome))
	}()

	if err := p.repo.RenewClaim(ctx, item.ID, token, p.now().Add(p.config.ClaimLease)); err != nil {
		if errors.Is(err, ErrClaimLost) {
			log.Warn("notification claimed by another pass, skipping")
			return outcomeSkipped
		}
		log.Error("failed to renew claim", "error", err)
		return outcomeError
	}
	held = true

	if err := p.dispatch(ctx, item); err != nil {
		return p.handleFailure(ctx, item, err)
	}
	delivered = true

	if err := p.repo.MarkAsSent(ctx, item.ID, p.now()); err != nil {
		return p.markError(ctx, "sent", err)
	}

	log.Debug("notification sent", "priority", item.Priority)
	return outcomeSent
}

func (p *Processor) failAfterPanic(ctx context.Context, item *QueuedNotification, cause error) (outcome itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("panic while recording failed attempt", "panic", r)
			outcome = outcomeError
		}
	}()
	return p.handleFailure(ctx, item, cause)
}

// dispatch runs the dispatcher under the per-item timeout and turns a panic
// into an ordinary failure.
func (p *Processor) dispatch(ctx context.Context, item *QueuedNotification) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.DispatchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	result, err := p.dispatcher.Dispatch(ctx, item.Request())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("dispatch timed out after %s: %w", p.config.DispatchTimeout, err)
		}
		return err
	}
	if !result.Success {
		return fmt.Errorf("dispatch failed: %s", result.Error)
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, item *QueuedNotification, dispatchErr error) itemOutcome {
	log := ctxlog.FromContext(ctx)
	retryCount := item.RetryCount + 1
	errMsg := dispatchErr.Error()

	if retryCount >= item.MaxRetries {
		if err := p.repo.MarkAsFailed(ctx, item.ID, retryCount, errMsg); err != nil {
			return p.markError(ctx, "failed", err)
		}
		log.Warn("notification failed permanently",
			"retry_count", retryCount,
			"max_retries", item.MaxRetries,
			"error", dispatchErr,
		)
		return outcomeFailed
	}

	next := p.now().Add(p.backoff(retryCount))
	if err := p.repo.MarkForRetry(ctx, item.ID, retryCount, next, errMsg); err != nil {
		return p.markError(ctx, "retry", err)
	}

	log.Info("notification scheduled for retry",
		"retry_count", retryCount,
		"max_retries", item.MaxRetries,
		"scheduled_for", next,
		"error", dispatchErr,
	)
	return outcomeRetry
}

// markError handles a failed state write. ErrNotPending means another pass
// already resolved the item; anything else leaves it to the claim expiry.
func (p *Processor) markError(ctx context.Context, target string, err error) itemOutcome {
	log := ctxlog.FromContext(ctx)
	if errors.Is(err, ErrNotPending) {
		log.Warn("notification already resolved", "target", target)
		return outcomeSkipped
	}
	log.Error("failed to update notification", "target", target, "error", err)
	return outcomeError
}

// backoff returns InitialBackoff * BackoffMultiplier^(retryCount-1), capped
// at MaxBackoff.
func (p *Processor) backoff(retryCount int) time.Duration {
	backoff := float64(p.config.InitialBackoff)
	for i := 1; i < retryCount; i++ {
		backoff *= p.config.BackoffMultiplier
		if backoff >= float64(p.config.MaxBackoff) {
			break
		}
	}

	if backoff > float64(p.config.MaxBackoff) {
		backoff = float64(p.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
