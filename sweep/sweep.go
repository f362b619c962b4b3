// Package sweep expires read notifications past their retention period,
// archiving them before removal.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edusync/metrics"
	"edusync/pkg/notifier"
)

// Store is the part of the notification store the sweeper needs.
type Store interface {
	Recipients() []string
	Expired(recipientID string, cutoff time.Time) []notifier.Notification
	Delete(id string) error
}

// Archiver persists notifications before they are removed.
type Archiver interface {
	Append(ctx context.Context, recipientID string, ns []notifier.Notification) error
}

// Result summarizes one sweep.
type Result struct {
	Recipients int `json:"recipients"`
	Archived   int `json:"archived"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
}

// Sweeper removes read notifications older than the TTL.
type Sweeper struct {
	store   Store
	archive Archiver
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	ttl     time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics records swept notifications on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New creates a sweeper. archive may be nil, in which case expired
// notifications are deleted without being archived.
func New(store Store, archive Archiver, ttl time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:   store,
		archive: archive,
		logger:  logger,
		now:     time.Now,
		ttl:     ttl,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// CheckAll expires read notifications of every recipient. A recipient whose
// archive write fails keeps its notifications until the next sweep.
func (s *Sweeper) CheckAll(ctx context.Context) (Result, error) {
	var res Result
	if s.ttl <= 0 {
		return res, nil
	}

	now := s.now()
	cutoff := now.Add(-s.ttl)
	recipients := s.store.Recipients()
	s.logger.Info("Sweeping read notifications",
		"recipients", len(recipients),
		"cutoff", cutoff.Format(time.RFC3339))

	for _, recipientID := range recipients {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping sweep", "error", ctx.Err())
			return res, ctx.Err()
		default:
		}

		res.Recipients++
		if err := s.sweepRecipient(ctx, recipientID, cutoff, &res); err != nil {
			res.Failed++
			s.logger.Warn("Sweep failed for recipient", "recipient_id", recipientID, "error", err)
		}
	}

	s.metrics.Swept.Add(float64(res.Deleted))
	s.logger.Info("Sweep completed",
		"recipients", res.Recipients,
		"archived", res.Archived,
		"deleted", res.Deleted,
		"failed", res.Failed)
	return res, nil
}

func (s *Sweeper) sweepRecipient(ctx context.Context, recipientID string, cutoff time.Time, res *Result) error {
	expired := s.store.Expired(recipientID, cutoff)
	if len(expired) == 0 {
		return nil
	}

	if s.archive != nil {
		if err := s.archive.Append(ctx, recipientID, expired); err != nil {
			return fmt.Errorf("archive expired notifications: %w", err)
		}
		res.Archived += len(expired)
	}

	for _, n := range expired {
		if err := s.store.Delete(n.ID); err != nil {
			return fmt.Errorf("delete %s: %w", n.ID, err)
		}
		res.Deleted++
	}

	s.logger.Debug("Expired notifications removed", "recipient_id", recipientID, "count", len(expired))
	return nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		s.logger.Info("Retention sweeper disabled", "interval", interval.String(), "ttl", s.ttl.String())
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CheckAll(ctx); err != nil {
				s.logger.Warn("Sweep interrupted", "error", err)
			}
		}
	}
}
