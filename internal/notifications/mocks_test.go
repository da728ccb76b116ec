package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/google/uuid"
)

// memoryQueue is an in-memory QueueRepository with the same claim and
// conditional update rules as the PostgreSQL store. Writes fail on a
// cancelled context the way pgx does.
type memoryQueue struct {
	mu       sync.Mutex
	items    map[string]*QueuedNotification
	claimed  map[string]memoryClaim
	claimErr error
	markErr  error
}

type memoryClaim struct {
	token string
	until time.Time
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{
		items:   make(map[string]*QueuedNotification),
		claimed: make(map[string]memoryClaim),
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, n *QueuedNotification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = QueueStatusPending
	}
	cp := *n
	q.items[n.ID] = &cp
	return nil
}

func (q *memoryQueue) GetByID(_ context.Context, id string) (*QueuedNotification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, ok := q.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (q *memoryQueue) ClaimDue(_ context.Context, token string, now time.Time, limit int, lease time.Duration) ([]*QueuedNotification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.claimErr != nil {
		return nil, q.claimErr
	}

	var due []*QueuedNotification
	for _, n := range q.items {
		if !n.IsDue(now) {
			continue
		}
		if c, ok := q.claimed[n.ID]; ok && c.until.After(now) {
			continue
		}
		due = append(due, n)
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	// Shuffle the returned order the way UPDATE ... RETURNING may.
	out := make([]*QueuedNotification, 0, len(due))
	for _, n := range slices.Backward(due) {
		q.claimed[n.ID] = memoryClaim{token: token, until: now.Add(lease)}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (q *memoryQueue) RenewClaim(ctx context.Context, id, token string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n, ok := q.items[id]
	c, held := q.claimed[id]
	if !ok || n.Status != QueueStatusPending || !held || c.token != token {
		return ErrClaimLost
	}
	q.claimed[id] = memoryClaim{token: token, until: until}
	return nil
}

func (q *memoryQueue) resolve(ctx context.Context, id string, fn func(n *QueuedNotification)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.markErr != nil {
		return q.markErr
	}

	n, ok := q.items[id]
	if !ok || n.Status != QueueStatusPending {
		return ErrNotPending
	}
	fn(n)
	delete(q.claimed, id)
	return nil
}

func (q *memoryQueue) MarkAsSent(ctx context.Context, id string, sentAt time.Time) error {
	return q.resolve(ctx, id, func(n *QueuedNotification) {
		n.Status = QueueStatusSent
		n.SentAt = &sentAt
		n.ErrorMessage = ""
	})
}

func (q *memoryQueue) MarkForRetry(ctx context.Context, id string, retryCount int, scheduledFor time.Time, errMsg string) error {
	return q.resolve(ctx, id, func(n *QueuedNotification) {
		n.RetryCount = retryCount
		n.ScheduledFor = scheduledFor
		n.ErrorMessage = errMsg
	})
}

func (q *memoryQueue) MarkAsFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	return q.resolve(ctx, id, func(n *QueuedNotification) {
		n.Status = QueueStatusFailed
		n.RetryCount = retryCount
		n.ErrorMessage = errMsg
	})
}

func (q *memoryQueue) GetQueueStats(_ context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, n := range q.items {
		switch n.Status {
		case QueueStatusPending:
			s.Pending++
		case QueueStatusSent:
			s.Sent++
		case QueueStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

func (q *memoryQueue) PurgeSentOlderThan(_ context.Context, before time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deleted int64
	for id, n := range q.items {
		if n.Status == QueueStatusSent && n.SentAt != nil && n.SentAt.Before(before) {
			delete(q.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (q *memoryQueue) get(id string) QueuedNotification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

// memoryLogs is an in-memory DeliveryLogRepository.
type memoryLogs struct {
	mu        sync.Mutex
	entries   []DeliveryLogEntry
	countErr  error
	createErr error
}

func (l *memoryLogs) CreateDeliveryLog(_ context.Context, e *DeliveryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.createErr != nil {
		return l.createErr
	}
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memoryLogs) CountUserDeliveriesSince(_ context.Context, userID string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.countErr != nil {
		return 0, l.countErr
	}
	count := 0
	for _, e := range l.entries {
		if e.UserID == userID && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (l *memoryLogs) ListUserDeliveryLogs(_ context.Context, userID string, limit int) ([]DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DeliveryLogEntry, 0)
	for _, e := range slices.Backward(l.entries) {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memoryLogs) seed(userID string, n int, at time.Time, status DeliveryStatus) {
	for range n {
		l.entries = append(l.entries, DeliveryLogEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Channel:        domain.ChannelTypeEmail,
			DeliveryStatus: status,
			CreatedAt:      at,
		})
	}
}

func (l *memoryLogs) all() []DeliveryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// memorySettings is an in-memory SettingsRepository.
type memorySettings struct {
	mu       sync.Mutex
	settings map[string]NotificationSettings
	getErr   error
}

func newMemorySettings() *memorySettings {
	return &memorySettings{settings: make(map[string]NotificationSettings)}
}

func (s *memorySettings) GetSettings(_ context.Context, userID string) (*NotificationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.settings[userID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	return &v, nil
}

func (s *memorySettings) EnsureSettings(_ context.Context, defaults *NotificationSettings) (*NotificationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.settings[defaults.UserID]; ok {
		return &v, nil
	}
	v := *defaults
	v.CreatedAt = time.Now().UTC()
	v.UpdatedAt = v.CreatedAt
	s.settings[v.UserID] = v
	return &v, nil
}

func (s *memorySettings) UpsertSettings(_ context.Context, v *NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.UpdatedAt = time.Now().UTC()
	s.settings[v.UserID] = *v
	return nil
}

// fakeSender records notifications and answers with sendFn.
type fakeSender struct {
	mu       sync.Mutex
	channel  domain.ChannelType
	provider string
	sendFn   func(n Notification) (SendResult, error)
	sent     []Notification
}

func newFakeSender(channel domain.ChannelType, provider string) *fakeSender {
	return &fakeSender{channel: channel, provider: provider}
}

func (s *fakeSender) Type() domain.ChannelType { return s.channel }
func (s *fakeSender) Provider() string         { return s.provider }

func (s *fakeSender) Send(_ context.Context, n Notification) (SendResult, error) {
	s.mu.Lock()
	s.sent = append(s.sent, n)
	fn := s.sendFn
	count := len(s.sent)
	s.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	return SendResult{MessageID: fmt.Sprintf("%s-%d", s.provider, count)}, nil
}

func (s *fakeSender) calls() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// scriptedDispatcher records the order of dispatched requests.
type scriptedDispatcher struct {
	mu     sync.Mutex
	order  []string
	handle func(ctx context.Context, req NotificationRequest) (DispatchResult, error)
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, req NotificationRequest) (DispatchResult, error) {
	d.mu.Lock()
	d.order = append(d.order, req.MessageContent)
	d.mu.Unlock()

	if d.handle != nil {
		return d.handle(ctx, req)
	}
	return DispatchResult{Success: true, MessageID: "ok"}, nil
}

func (d *scriptedDispatcher) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.order)
}

var errProviderDown = errors.New("provider down")

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testUserID = "6f1c2a9e-4b7d-4e0a-9d52-0f6c8e3b1a27"

func intPtr(v int) *int { return &v }
