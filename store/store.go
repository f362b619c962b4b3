// Package store holds notifications keyed by recipient and publishes every
// newly created notification to the subscription hub.
package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"edusync/metrics"
	"edusync/pkg/notifier"
)

const (
	defaultMaxPerRecipient = 1000
	maxTombstones          = 10000
)

// Publisher delivers a newly created notification to live subscribers.
type Publisher interface {
	Publish(recipientID string, n notifier.Notification)
}

// EvictionHook receives notifications removed by the per-recipient cap.
type EvictionHook func(recipientID string, evicted []notifier.Notification)

type entry struct {
	n    notifier.Notification
	text string // lowercased plain text of title and message
	seq  uint64
}

// mailbox is one recipient's notification list. Entries are kept in
// insertion order, which is also CreatedAt order.
type mailbox struct {
	byID        map[string]*entry
	entries     []*entry
	lastCreated time.Time
	mu          sync.RWMutex
}

// Store is an in-memory notification store. Mutations to one recipient are
// serialized by that recipient's lock; reads run concurrently.
type Store struct {
	pub        Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	onEvict    EvictionHook
	boxes      map[string]*mailbox
	index      map[string]string // notification id -> recipient id
	tombstones map[string]struct{}
	tombOrder  []string
	seq        atomic.Uint64
	maxPerRecp int
	mu         sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxPerRecipient caps the notifications retained per recipient.
// Zero or negative disables the cap.
func WithMaxPerRecipient(n int) Option {
	return func(s *Store) { s.maxPerRecp = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvictionHook registers a callback for notifications evicted by the cap.
func WithEvictionHook(hook EvictionHook) Option {
	return func(s *Store) { s.onEvict = hook }
}

// WithMetrics records store activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store that publishes through pub. pub may be nil.
func New(pub Publisher, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		pub:        pub,
		logger:     logger,
		now:        time.Now,
		boxes:      make(map[string]*mailbox),
		index:      make(map[string]string),
		tombstones: make(map[string]struct{}),
		maxPerRecp: defaultMaxPerRecipient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// CreateInput is the producer-supplied part of a notification.
type CreateInput struct {
	Data        map[string]any    `json:"data,omitempty"`
	RecipientID string            `json:"recipient_id" validate:"required"`
	Type        notifier.Type     `json:"type" validate:"required,notification_type"`
	Priority    notifier.Priority `json:"priority" validate:"required,priority"`
	Title       string            `json:"title" validate:"max=512"`
	Message     string            `json:"message" validate:"max=8192"`
}

// Create validates in, stores a new notification and publishes it to the
// recipient's subscribers. Publishing happens under the recipient's write
// lock so subscribers observe creation order.
func (s *Store) Create(in CreateInput) (notifier.Notification, error) {
	if err := validateInput(&in); err != nil {
		return notifier.Notification{}, err
	}

	n := notifier.Notification{
		ID:          uuid.New().String(),
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Priority:    in.Priority,
		Category:    notifier.CategoryFor(in.Type, in.Data),
		Title:       in.Title,
		Message:     in.Message,
		Data:        in.Data,
	}
	n = n.Clone()

	box := s.mailbox(in.RecipientID)
	box.mu.Lock()

	created := s.now()
	if created.Before(box.lastCreated) {
		created = box.lastCreated
	}
	box.lastCreated = created
	n.CreatedAt = created

	e := &entry{n: n, text: searchText(n.Title, n.Message), seq: s.seq.Add(1)}
	box.entries = append(box.entries, e)
	box.byID[n.ID] = e
	evicted := s.evictLocked(box)

	s.mu.Lock()
	s.index[n.ID] = n.RecipientID
	for _, ev := range evicted {
		delete(s.index, ev.ID)
		s.tombstoneLocked(ev.ID)
	}
	s.mu.Unlock()

	if s.pub != nil {
		s.pub.Publish(n.RecipientID, n)
	}
	box.mu.Unlock()

	s.metrics.NotificationsCreated.WithLabelValues(string(n.Priority)).Inc()
	s.logger.Debug("Notification created",
		"id", n.ID,
		"recipient_id", n.RecipientID,
		"type", n.Type,
		"priority", n.Priority)

	if len(evicted) > 0 {
		s.metrics.NotificationsEvicted.Add(float64(len(evicted)))
		s.logger.Info("Notifications evicted by retention cap",
			"recipient_id", n.RecipientID,
			"count", len(evicted),
			"cap", s.maxPerRecp)
		if s.onEvict != nil {
			s.onEvict(n.RecipientID, evicted)
		}
	}

	return n.Clone(), nil
}

// evictLocked enforces the per-recipient cap: the oldest read notification
// goes first, then the oldest overall. Caller holds box.mu.
func (s *Store) evictLocked(box *mailbox) []notifier.Notification {
	if s.maxPerRecp <= 0 {
		return nil
	}
	var evicted []notifier.Notification
	for len(box.entries) > s.maxPerRecp {
		victim := 0
		for i, e := range box.entries {
			if e.n.Read {
				victim = i
				break
			}
		}
		e := box.entries[victim]
		box.entries = append(box.entries[:victim], box.entries[victim+1:]...)
		delete(box.byID, e.n.ID)
		evicted = append(evicted, e.n.Clone())
	}
	return evicted
}

// MarkRead marks one notification as read. Marking an already read
// notification is a no-op that returns its current state.
func (s *Store) MarkRead(id string) (notifier.Notification, error) {
	box, ok := s.lookup(id)
	if !ok {
		return notifier.Notification{}, &notifier.NotFoundError{ID: id}
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	e, ok := box.byID[id]
	if !ok {
		return notifier.Notification{}, &notifier.NotFoundError{ID: id}
	}
	e.n.Read = true
	return e.n.Clone(), nil
}

// MarkAllRead marks every notification of recipientID as read and returns
// how many transitioned from unread.
func (s *Store) MarkAllRead(recipientID string) int {
	s.mu.RLock()
	box, ok := s.boxes[recipientID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	count := 0
	for _, e := range box.entries {
		if !e.n.Read {
			e.n.Read = true
			count++
		}
	}
	return count
}

// Delete removes a notification. Deleting an id that was already deleted or
// evicted is a no-op; an id the store never issued is a NotFoundError.
func (s *Store) Delete(id string) error {
	box, ok := s.lookup(id)
	if !ok {
		if s.wasDeleted(id) {
			return nil
		}
		return &notifier.NotFoundError{ID: id}
	}

	box.mu.Lock()
	e, ok := box.byID[id]
	if ok {
		delete(box.byID, id)
		for i, other := range box.entries {
			if other == e {
				box.entries = append(box.entries[:i], box.entries[i+1:]...)
				break
			}
		}
	}
	s.mu.Lock()
	delete(s.index, id)
	s.tombstoneLocked(id)
	s.mu.Unlock()
	box.mu.Unlock()

	return nil
}

// Get returns one notification by id.
func (s *Store) Get(id string) (notifier.Notification, error) {
	box, ok := s.lookup(id)
	if !ok {
		return notifier.Notification{}, &notifier.NotFoundError{ID: id}
	}

	box.mu.RLock()
	defer box.mu.RUnlock()

	e, ok := box.byID[id]
	if !ok {
		return notifier.Notification{}, &notifier.NotFoundError{ID: id}
	}
	return e.n.Clone(), nil
}

// UnreadCount returns the number of unread notifications for recipientID.
func (s *Store) UnreadCount(recipientID string) int {
	return len(s.List(recipientID, Filter{UnreadOnly: true}))
}

// Recipients returns every recipient that has a mailbox.
func (s *Store) Recipients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.boxes))
	for id := range s.boxes {
		out = append(out, id)
	}
	return out
}

// Expired returns the read notifications of recipientID created before cutoff,
// oldest first.
func (s *Store) Expired(recipientID string, cutoff time.Time) []notifier.Notification {
	s.mu.RLock()
	box, ok := s.boxes[recipientID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	box.mu.RLock()
	defer box.mu.RUnlock()

	var out []notifier.Notification
	for _, e := range box.entries {
		if e.n.Read && e.n.CreatedAt.Before(cutoff) {
			out = append(out, e.n.Clone())
		}
	}
	return out
}

func (s *Store) mailbox(recipientID string) *mailbox {
	s.mu.RLock()
	box, ok := s.boxes[recipientID]
	s.mu.RUnlock()
	if ok {
		return box
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if box, ok := s.boxes[recipientID]; ok {
		return box
	}
	box = &mailbox{byID: make(map[string]*entry)}
	s.boxes[recipientID] = box
	return box
}

func (s *Store) lookup(id string) (*mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipientID, ok := s.index[id]
	if !ok {
		return nil, false
	}
	box, ok := s.boxes[recipientID]
	return box, ok
}

func (s *Store) wasDeleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[id]
	return ok
}

// tombstoneLocked remembers a removed id, forgetting the oldest once the set
// is full. Caller holds s.mu.
func (s *Store) tombstoneLocked(id string) {
	if _, ok := s.tombstones[id]; ok {
		return
	}
	s.tombstones[id] = struct{}{}
	s.tombOrder = append(s.tombOrder, id)
	if len(s.tombOrder) > maxTombstones {
		oldest := s.tombOrder[0]
		s.tombOrder = s.tombOrder[1:]
		delete(s.tombstones, oldest)
	}
}
