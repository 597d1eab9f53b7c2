package notification

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

// Package notification holds the operator notification log.
//
// Responsibilities:
//   - Keep the newest notifications, capped at DefaultCapacity, newest first
//   - Deliver every new notification to live subscribers
//   - Filter by severity rank, read state and count
//   - Log each notification at a level derived from its severity
//
// Subscribers are called synchronously in subscription order. A subscriber
// that returns an error or panics is logged and skipped; delivery to the
// remaining subscribers continues.

// DefaultCapacity is the maximum number of notifications retained.
const DefaultCapacity = 100

// ─── Public types ─────────────────────────────────────────────────────────────

// Subscriber receives every notification added to the hub.
type Subscriber func(models.Notification) error

// Subscription identifies one registered subscriber.
type Subscription struct {
	id  uint64
	hub *Hub
}

// Unsubscribe removes the subscriber. It reports whether it was registered.
func (s Subscription) Unsubscribe() bool {
	if s.hub == nil {
		return false
	}
	return s.hub.Unsubscribe(s)
}

// Filter narrows GetNotifications. Severity keeps entries ranked at or
// above it; a zero Limit means no limit.
type Filter struct {
	Severity   models.Severity
	UnreadOnly bool
	Limit      int
}

// Hub is the in-memory notification log.
type Hub struct {
	mu       sync.RWMutex
	items    []models.Notification
	capacity int

	subMu       sync.RWMutex
	subscribers map[uint64]Subscriber
	nextID      uint64

	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithCapacity changes the number of retained notifications.
func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// NewHub creates an empty notification hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		capacity:    DefaultCapacity,
		subscribers: make(map[uint64]Subscriber),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ─── Log mutation ─────────────────────────────────────────────────────────────

// AddNotification stamps n with an id and timestamp, marks it unread,
// prepends it to the log and broadcasts it.
func (h *Hub) AddNotification(n models.Notification) models.Notification {
	n.ID = uuid.NewString()
	if n.Timestamp.IsZero() {
		n.Timestamp = h.now()
	}
	if n.Severity == "" {
		n.Severity = models.SeverityInfo
	}
	n.Read = false
	n.ReadAt = nil

	h.mu.Lock()
	h.items = append([]models.Notification{n}, h.items...)
	if len(h.items) > h.capacity {
		h.items = h.items[:h.capacity]
	}
	h.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(n.Severity), string(n.Category)).Inc()
	h.log(n)
	h.broadcast(n)
	return n
}

func (h *Hub) log(n models.Notification) {
	fields := []zap.Field{
		zap.String("id", n.ID),
		zap.String("category", string(n.Category)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	switch n.Severity {
	case models.SeverityCritical:
		h.logger.Error("notification", fields...)
	case models.SeverityWarning:
		h.logger.Warn("notification", fields...)
	default:
		h.logger.Info("notification", fields...)
	}
}

// MarkAsRead marks one notification read.
func (h *Hub) MarkAsRead(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.items {
		if h.items[i].ID != id {
			continue
		}
		if !h.items[i].Read {
			now := h.now()
			h.items[i].Read = true
			h.items[i].ReadAt = &now
		}
		return nil
	}
	return &models.NotFoundError{Kind: "notification", ID: id}
}

// MarkAllAsRead marks every unread notification read and returns how many
// changed.
func (h *Hub) MarkAllAsRead() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	changed := 0
	for i := range h.items {
		if h.items[i].Read {
			continue
		}
		readAt := now
		h.items[i].Read = true
		h.items[i].ReadAt = &readAt
		changed++
	}
	return changed
}

// ClearNotifications empties the log. Subscribers are kept.
func (h *Hub) ClearNotifications() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// GetNotifications returns the log newest first, narrowed by f.
func (h *Hub) GetNotifications(f Filter) []models.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Notification, 0, len(h.items))
	for _, n := range h.items {
		if f.Severity != "" && n.Severity.Rank() > f.Severity.Rank() {
			continue
		}
		if f.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of retained notifications.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// UnreadCount returns the number of unread notifications.
func (h *Hub) UnreadCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// ─── Subscribers ──────────────────────────────────────────────────────────────

// Subscribe registers s and returns its subscription token.
func (h *Hub) Subscribe(s Subscriber) Subscription {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.nextID++
	h.subscribers[h.nextID] = s
	return Subscription{id: h.nextID, hub: h}
}

// Unsubscribe removes the subscriber behind sub.
func (h *Hub) Unsubscribe(sub Subscription) bool {
	if sub.hub != h {
		return false
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if _, ok := h.subscribers[sub.id]; !ok {
		return false
	}
	delete(h.subscribers, sub.id)
	return true
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subscribers)
}

// broadcast delivers n to every subscriber, isolating failures.
func (h *Hub) broadcast(n models.Notification) {
	h.subMu.RLock()
	ids := make([]uint64, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]Subscriber, len(ids))
	for i, id := range ids {
		subs[i] = h.subscribers[id]
	}
	h.subMu.RUnlock()

	for i, s := range subs {
		if err := deliver(s, n); err != nil {
			metrics.SubscriberErrorsTotal.Inc()
			h.logger.Error("notification subscriber failed",
				zap.Uint64("subscriber", ids[i]),
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
		}
	}
}

func deliver(s Subscriber, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s(n)
}
