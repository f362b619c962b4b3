package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"edusync/metrics"
	"edusync/pkg/notifier"
)

// Sender emails notifications at or above a minimum priority.
type Sender struct {
	provider    Provider
	directory   Directory
	logger      *slog.Logger
	metrics     *metrics.Metrics
	baseURL     string // For links in emails
	minPriority notifier.Priority
}

// Option configures a Sender.
type Option func(*Sender)

// WithMinPriority sets the lowest priority that is emailed. Default high.
func WithMinPriority(p notifier.Priority) Option {
	return func(s *Sender) {
		if p.Valid() {
			s.minPriority = p
		}
	}
}

// WithMetrics records sent emails on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) { s.metrics = m }
}

// New creates a new email sender with the given provider.
func New(provider Provider, directory Directory, logger *slog.Logger, baseURL string, opts ...Option) *Sender {
	s := &Sender{
		provider:    provider,
		directory:   directory,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		minPriority: notifier.PriorityHigh,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// Notify emails n to its recipient. Notifications below the minimum
// priority, and recipients without an address, are skipped.
func (s *Sender) Notify(ctx context.Context, n notifier.Notification) error {
	if !n.Priority.AtLeast(s.minPriority) {
		return nil
	}
	to, ok := s.directory.Address(n.RecipientID)
	if !ok {
		s.logger.Debug("No email address for recipient", "recipient_id", n.RecipientID)
		s.metrics.EmailsSent.WithLabelValues("no_address").Inc()
		return nil
	}

	subject := formatSubject(n)
	body := s.formatNotificationBody(n)

	s.logger.Info("Sending notification email",
		"to", to,
		"recipient_id", n.RecipientID,
		"notification_id", n.ID,
		"priority", n.Priority)

	if err := s.provider.Send(ctx, to, subject, body); err != nil {
		s.metrics.EmailsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send notification %s: %w", n.ID, err)
	}
	s.metrics.EmailsSent.WithLabelValues("sent").Inc()
	return nil
}

// Callback adapts Notify to a hub subscriber callback. Sends are bound to
// ctx, so cancelling it aborts in-flight retries.
func (s *Sender) Callback(ctx context.Context) func(notifier.Notification) error {
	return func(n notifier.Notification) error {
		return s.Notify(ctx, n)
	}
}

func formatSubject(n notifier.Notification) string {
	title := strings.TrimSpace(plainText(n.Title))
	if title == "" {
		title = "New notification"
	}
	if n.Priority == notifier.PriorityUrgent {
		return "[Urgent] " + title
	}
	return title
}
