// Package hub is the subscription registry: observers register interest in a
// recipient's notification stream and receive pushed notifications.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"edusync/metrics"
	"edusync/pkg/notifier"
)

const defaultQueueSize = 256

// ErrSubscriberLagging is reported to the error sink when a subscriber's
// queue is full and a notification is dropped for it.
var ErrSubscriberLagging = errors.New("subscriber queue full")

// Callback receives one notification. Returned errors and panics are
// isolated to the subscriber and reported to the error sink.
type Callback func(n notifier.Notification) error

// ErrorSink receives subscriber failures.
type ErrorSink func(token, recipientID string, err error)

type subscription struct {
	cb          Callback
	queue       chan notifier.Notification
	done        chan struct{}
	token       string
	recipientID string
	stopOnce    sync.Once
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub fans notifications out to subscribers. Each subscriber has its own
// FIFO queue and worker goroutine, so delivery to one subscriber follows
// publish order and a slow subscriber never blocks Publish.
type Hub struct {
	logger    *slog.Logger
	sink      ErrorSink
	metrics   *metrics.Metrics
	byRecip   map[string][]*subscription // replaced, never mutated in place
	byToken   map[string]*subscription
	wg        sync.WaitGroup
	queueSize int
	mu        sync.RWMutex
	closed    bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithErrorSink replaces the default logging sink.
func WithErrorSink(sink ErrorSink) Option {
	return func(h *Hub) { h.sink = sink }
}

// WithMetrics records hub activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a hub.
func New(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:    logger,
		byRecip:   make(map[string][]*subscription),
		byToken:   make(map[string]*subscription),
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.Nop()
	}
	if h.sink == nil {
		h.sink = func(token, recipientID string, err error) {
			h.logger.Warn("Subscriber delivery failed", "token", token, "recipient_id", recipientID, "error", err)
		}
	}
	return h
}

// Subscribe registers cb for notifications published to recipientID after
// this call returns. The returned token is used to unsubscribe.
func (h *Hub) Subscribe(recipientID string, cb Callback) string {
	s := &subscription{
		cb:          cb,
		queue:       make(chan notifier.Notification, h.queueSize),
		done:        make(chan struct{}),
		token:       uuid.New().String(),
		recipientID: recipientID,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stop()
		return s.token
	}
	subs := h.byRecip[recipientID]
	next := make([]*subscription, len(subs), len(subs)+1)
	copy(next, subs)
	h.byRecip[recipientID] = append(next, s)
	h.byToken[s.token] = s
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.Subscriptions.Inc()
	h.logger.Debug("Subscriber registered", "token", s.token, "recipient_id", recipientID)

	go h.run(s)
	return s.token
}

// Unsubscribe removes the registration for token. Unknown or already removed
// tokens are ignored. It is safe to call from inside the subscriber's own
// callback; it does not wait for the worker to exit.
func (h *Hub) Unsubscribe(token string) {
	h.mu.Lock()
	s, ok := h.byToken[token]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.byToken, token)
	subs := h.byRecip[s.recipientID]
	next := make([]*subscription, 0, len(subs))
	for _, other := range subs {
		if other != s {
			next = append(next, other)
		}
	}
	if len(next) == 0 {
		delete(h.byRecip, s.recipientID)
	} else {
		h.byRecip[s.recipientID] = next
	}
	h.mu.Unlock()

	s.stop()
	h.metrics.Subscriptions.Dec()
	h.logger.Debug("Subscriber removed", "token", token, "recipient_id", s.recipientID)
}

// Publish enqueues n for every current subscriber of recipientID. It never
// waits for a callback to run.
func (h *Hub) Publish(recipientID string, n notifier.Notification) {
	h.mu.RLock()
	subs := h.byRecip[recipientID]
	h.mu.RUnlock()

	h.metrics.Published.Inc()
	for _, s := range subs {
		if s.stopped() {
			continue
		}
		select {
		case s.queue <- n.Clone():
		default:
			h.metrics.Dropped.Inc()
			h.sink(s.token, recipientID, fmt.Errorf("drop notification %s: %w", n.ID, ErrSubscriberLagging))
		}
	}
}

// Count returns the number of active subscriptions for recipientID.
func (h *Hub) Count(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRecip[recipientID])
}

// Close stops every subscriber and waits for their workers to exit. It must
// not be called from inside a callback.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscription, 0, len(h.byToken))
	for _, s := range h.byToken {
		subs = append(subs, s)
	}
	h.byRecip = make(map[string][]*subscription)
	h.byToken = make(map[string]*subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
		h.metrics.Subscriptions.Dec()
	}
	h.wg.Wait()
}

func (h *Hub) run(s *subscription) {
	defer h.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case n := <-s.queue:
			// done may have closed while n was waiting in the queue.
			if s.stopped() {
				return
			}
			h.deliver(s, n)
		}
	}
}

func (h *Hub) deliver(s *subscription, n notifier.Notification) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.DeliveryFailures.WithLabelValues("panic").Inc()
			h.sink(s.token, s.recipientID, fmt.Errorf("subscriber panic on %s: %v", n.ID, r))
		}
	}()

	if err := s.cb(n); err != nil {
		h.metrics.DeliveryFailures.WithLabelValues("error").Inc()
		h.sink(s.token, s.recipientID, fmt.Errorf("deliver %s: %w", n.ID, err))
		return
	}
	h.metrics.Delivered.Inc()
}
