// Package aggregate builds cross-role sync snapshots: one consistent view of
// a subject (profile, activities, progress, notifications and alerts) for a
// viewer linked to it.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/errgroup"

	"edusync/metrics"
	"edusync/pkg/notifier"
	"edusync/store"
)

// Data sources named in partial data warnings.
const (
	SourceActivities = "activities"
	SourceProgress   = "progress"
)

const (
	defaultSourceTimeout = 3 * time.Second
	defaultAttempts      = 2
	defaultRetryDelay    = 200 * time.Millisecond
)

// Directory resolves a subject for a viewer. It returns a
// *notifier.SubjectNotFoundError when the subject is unknown or not linked.
type Directory interface {
	ResolveSubject(ctx context.Context, viewerID, subjectID string) (notifier.Profile, error)
}

// ActivitySource lists the activities assigned to a subject.
type ActivitySource interface {
	Activities(ctx context.Context, subjectID string) ([]notifier.Activity, error)
}

// ProgressSource reports raw progress metrics for a subject.
type ProgressSource interface {
	Progress(ctx context.Context, subjectID string) (notifier.Metrics, error)
}

// Lister reads notifications from the store.
type Lister interface {
	List(recipientID string, f store.Filter) []notifier.Notification
}

// Aggregator builds snapshots. It keeps no state between calls.
type Aggregator struct {
	directory     Directory
	activities    ActivitySource
	progress      ProgressSource
	notifications Lister
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	sourceTimeout time.Duration
	retryDelay    time.Duration
	attempts      uint
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSourceTimeout bounds each individual source call.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.sourceTimeout = d
		}
	}
}

// WithRetry sets how many times a transient source failure is attempted and
// the initial delay between attempts.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(a *Aggregator) {
		if attempts > 0 {
			a.attempts = attempts
		}
		a.retryDelay = delay
	}
}

// WithClock overrides time.Now, which anchors the weekly streak.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithMetrics records snapshot outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New creates an aggregator over the given sources.
func New(dir Directory, activities ActivitySource, progress ProgressSource, notifications Lister, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		directory:     dir,
		activities:    activities,
		progress:      progress,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
		sourceTimeout: defaultSourceTimeout,
		retryDelay:    defaultRetryDelay,
		attempts:      defaultAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.Nop()
	}
	return a
}

// Sync builds a fresh snapshot of subjectID as seen by viewerID.
//
// The call fails when the subject cannot be resolved for the viewer. Failures
// of the activity or progress source degrade to empty data plus a
// PartialDataWarning on the snapshot.
func (a *Aggregator) Sync(ctx context.Context, viewerID, subjectID string) (*notifier.Snapshot, error) {
	start := time.Now()

	profile, err := a.resolve(ctx, viewerID, subjectID)
	if err != nil {
		outcome := "error"
		if notifier.IsSubjectNotFound(err) {
			outcome = "not_found"
		}
		a.metrics.Snapshots.WithLabelValues(outcome).Inc()
		a.logger.Warn("Snapshot failed", "viewer_id", viewerID, "subject_id", subjectID, "error", err)
		return nil, err
	}

	var (
		activities []notifier.Activity
		raw        notifier.Metrics
		actWarn    *notifier.PartialDataWarning
		progWarn   *notifier.PartialDataWarning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := fetch(gctx, a, SourceActivities, subjectID, func(ctx context.Context) ([]notifier.Activity, error) {
			return a.activities.Activities(ctx, subjectID)
		})
		if err != nil {
			w := notifier.NewPartialDataWarning(SourceActivities, err)
			actWarn = &w
			return nil
		}
		activities = got
		return nil
	})
	g.Go(func() error {
		got, err := fetch(gctx, a, SourceProgress, subjectID, func(ctx context.Context) (notifier.Metrics, error) {
			return a.progress.Progress(ctx, subjectID)
		})
		if err != nil {
			w := notifier.NewPartialDataWarning(SourceProgress, err)
			progWarn = &w
			return nil
		}
		raw = got
		return nil
	})
	_ = g.Wait() // goroutines report failures as warnings

	if err := ctx.Err(); err != nil {
		a.metrics.Snapshots.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sync %s: %w", subjectID, err)
	}

	snap := &notifier.Snapshot{
		SubjectID:     subjectID,
		ViewerID:      viewerID,
		Profile:       profile,
		Activities:    normalizeActivities(activities),
		Notifications: []notifier.Notification{},
		Alerts:        []notifier.Alert{},
		GeneratedAt:   a.now(),
	}
	for _, w := range []*notifier.PartialDataWarning{actWarn, progWarn} {
		if w == nil {
			continue
		}
		snap.Warnings = append(snap.Warnings, *w)
		a.metrics.PartialWarnings.WithLabelValues(w.Source).Inc()
		a.logger.Warn("Partial data in snapshot",
			"viewer_id", viewerID,
			"subject_id", subjectID,
			"source", w.Source,
			"error", w.Err)
	}

	snap.Progress = buildProgress(raw, snap.Activities, snap.GeneratedAt)

	for _, n := range a.notifications.List(subjectID, store.Filter{}) {
		if n.Type != notifier.TypeIntelligentAlert {
			snap.Notifications = append(snap.Notifications, n)
			continue
		}
		alert, err := notifier.AlertFromNotification(n)
		if err != nil {
			a.logger.Warn("Skipping undecodable alert", "id", n.ID, "error", err)
			continue
		}
		snap.Alerts = append(snap.Alerts, alert)
	}

	outcome := "ok"
	if snap.Partial() {
		outcome = "partial"
	}
	a.metrics.Snapshots.WithLabelValues(outcome).Inc()
	a.logger.Info("Snapshot built",
		"viewer_id", viewerID,
		"subject_id", subjectID,
		"activities", len(snap.Activities),
		"notifications", len(snap.Notifications),
		"alerts", len(snap.Alerts),
		"warnings", len(snap.Warnings),
		"duration", time.Since(start))

	return snap, nil
}

func (a *Aggregator) resolve(ctx context.Context, viewerID, subjectID string) (notifier.Profile, error) {
	if viewerID == "" || subjectID == "" {
		return notifier.Profile{}, &notifier.SubjectNotFoundError{ViewerID: viewerID, SubjectID: subjectID}
	}

	pctx, cancel := context.WithTimeout(ctx, a.sourceTimeout)
	defer cancel()

	profile, err := bounded(pctx, func(ctx context.Context) (notifier.Profile, error) {
		return a.directory.ResolveSubject(ctx, viewerID, subjectID)
	})
	if err == nil {
		return profile, nil
	}
	if notifier.IsSubjectNotFound(err) {
		return notifier.Profile{}, err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return notifier.Profile{}, &notifier.TransientError{Op: "resolve subject", Err: err}
	}
	return notifier.Profile{}, fmt.Errorf("resolve subject: %w", err)
}

// bounded runs fn and returns when it finishes or ctx is done, whichever
// comes first. A result that arrives after ctx is done is discarded.
func bounded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// fetch runs fn with a per-attempt timeout, retrying transient failures.
// Timeouts become TransientErrors; other errors are not retried.
func fetch[T any](ctx context.Context, a *Aggregator, source, subjectID string, fn func(context.Context) (T, error)) (T, error) {
	var (
		out     T
		lastErr error
	)
	err := retry.Do(
		func() error {
			actx, cancel := context.WithTimeout(ctx, a.sourceTimeout)
			defer cancel()

			v, err := bounded(actx, fn)
			switch {
			case err == nil:
				out, lastErr = v, nil
				return nil
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				lastErr = &notifier.TransientError{Op: "fetch " + source, Err: err}
				return lastErr
			case notifier.IsTransient(err):
				lastErr = err
				return err
			default:
				lastErr = err
				return retry.Unrecoverable(err)
			}
		},
		retry.Attempts(a.attempts),
		retry.Delay(a.retryDelay),
		retry.MaxDelay(a.sourceTimeout),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			a.logger.Info("Retrying source fetch after error", "attempt", n, "source", source, "subject_id", subjectID, "error", retryErr)
		}),
	)
	var zero T
	if err == nil {
		return out, nil
	}
	if lastErr != nil {
		return zero, lastErr
	}
	return zero, err
}

// normalizeActivities copies activities ordered by due date then id, with
// progress clamped to [0,100].
func normalizeActivities(in []notifier.Activity) []notifier.Activity {
	out := make([]notifier.Activity, len(in))
	copy(out, in)
	for i := range out {
		out[i].Progress = notifier.ClampPercent(float64(out[i].Progress))
		if out[i].CompletedAt != nil {
			at := *out[i].CompletedAt
			out[i].CompletedAt = &at
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func buildProgress(raw notifier.Metrics, activities []notifier.Activity, now time.Time) notifier.Progress {
	p := notifier.Progress{
		Academic:        notifier.ClampPercent(raw.Academic),
		Emotional:       notifier.ClampPercent(raw.Emotional),
		Social:          notifier.ClampPercent(raw.Social),
		TotalActivities: len(activities),
	}
	p.Overall = notifier.ClampPercent(float64(p.Academic+p.Emotional+p.Social) / 3)

	for _, act := range activities {
		if act.Status == notifier.ActivityCompleted {
			p.CompletedActivities++
		}
	}
	p.WeeklyStreak = WeeklyStreak(activities, now)
	return p
}

// WeeklyStreak counts consecutive calendar days, ending today, with at least
// one completed activity. A day without a completion ends the streak, so a
// subject with nothing completed today has a streak of zero. Days follow the
// location of now.
func WeeklyStreak(activities []notifier.Activity, now time.Time) int {
	loc := now.Location()
	days := make(map[string]bool)
	for _, act := range activities {
		if act.Status != notifier.ActivityCompleted || act.CompletedAt == nil {
			continue
		}
		days[act.CompletedAt.In(loc).Format(time.DateOnly)] = true
	}

	streak := 0
	for d := now; days[d.Format(time.DateOnly)]; d = d.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}
