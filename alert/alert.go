// Package alert turns upstream signals about a subject into intelligent
// alerts and writes them through the notification store.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"edusync/metrics"
	"edusync/pkg/notifier"
	"edusync/store"
)

// Creator persists and publishes notifications.
type Creator interface {
	Create(in store.CreateInput) (notifier.Notification, error)
}

// SignalSource supplies signals for a subject.
type SignalSource interface {
	Signals(ctx context.Context, subjectID string) (Signals, error)
}

// Generator produces alerts for subjects.
type Generator struct {
	store   Creator
	source  SignalSource
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Generator.
type Option func(*Generator)

// WithSource sets the source used by GenerateFromSource.
func WithSource(src SignalSource) Option {
	return func(g *Generator) { g.source = src }
}

// WithMetrics records generated alerts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New creates a new alert generator.
func New(creator Creator, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:  creator,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.Nop()
	}
	return g
}

// Generate evaluates signals for subjectID and stores every resulting alert
// as an intelligent_alert notification addressed to the subject. The
// returned alerts carry the ids and timestamps assigned by the store.
func (g *Generator) Generate(ctx context.Context, subjectID string, signals Signals) ([]notifier.Alert, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, &notifier.InvalidNotificationError{Field: "subject_id", Reason: "is required"}
	}

	candidates := Evaluate(subjectID, signals)
	out := make([]notifier.Alert, 0, len(candidates))

	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		n, err := g.store.Create(store.CreateInput{
			RecipientID: subjectID,
			Type:        notifier.TypeIntelligentAlert,
			Priority:    a.Priority,
			Title:       a.Title,
			Message:     a.Message,
			Data:        a.Data(),
		})
		if err != nil {
			return out, fmt.Errorf("store %s alert: %w", a.Category, err)
		}

		a.ID = n.ID
		a.CreatedAt = n.CreatedAt
		out = append(out, a)

		g.metrics.AlertsGenerated.WithLabelValues(string(a.Category), string(a.Priority)).Inc()
		g.logger.Info("Alert generated",
			"id", a.ID,
			"subject_id", subjectID,
			"category", a.Category,
			"priority", a.Priority,
			"confidence", a.Confidence)
	}

	if len(out) == 0 {
		g.logger.Debug("No alerts for subject", "subject_id", subjectID)
	}
	return out, nil
}

// GenerateFromSource pulls signals for subjectID from the configured source
// and generates alerts from them.
func (g *Generator) GenerateFromSource(ctx context.Context, subjectID string) ([]notifier.Alert, error) {
	if g.source == nil {
		return nil, errors.New("no signal source configured")
	}
	signals, err := g.source.Signals(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}
	return g.Generate(ctx, subjectID, signals)
}
