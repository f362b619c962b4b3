package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/alert"
	"edusync/pkg/notifier"
	"edusync/provider/mock"
	"edusync/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var today = time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

func at(daysAgo int) *time.Time {
	t := today.AddDate(0, 0, -daysAgo).Add(-time.Hour)
	return &t
}

// fixture has a parent linked to student s1 with ten activities, six of them
// completed on the last three consecutive days.
func fixture(t *testing.T) (*mock.Provider, *store.Store) {
	t.Helper()
	p := mock.New()
	p.AddSubject(notifier.Profile{ID: "s1", Name: "Ana", Grade: "5th", Institution: "Lincoln", Status: "active"})
	p.AddSubject(notifier.Profile{ID: "s2", Name: "Leo"})
	p.Link("parent", "s1")

	var acts []notifier.Activity
	completedDays := []int{0, 0, 1, 1, 2, 2}
	for i := range 10 {
		a := notifier.Activity{
			ID:       string(rune('a' + i)),
			Title:    "activity",
			DueDate:  today.AddDate(0, 0, 5-i),
			Status:   notifier.ActivityPending,
			Progress: 20,
		}
		if i < len(completedDays) {
			a.Status = notifier.ActivityCompleted
			a.Progress = 100
			a.CompletedAt = at(completedDays[i])
		}
		acts = append(acts, a)
	}
	p.SetActivities("s1", acts)
	p.SetProgress("s1", notifier.Metrics{Academic: 80, Emotional: 70, Social: 90})

	return p, store.New(nil, discardLogger())
}

func newAggregator(p *mock.Provider, st *store.Store, opts ...Option) *Aggregator {
	opts = append([]Option{
		WithClock(func() time.Time { return today }),
		WithRetry(1, 0),
		WithSourceTimeout(200 * time.Millisecond),
	}, opts...)
	return New(p, p, p, st, discardLogger(), opts...)
}

func TestSyncScenario(t *testing.T) {
	p, st := fixture(t)
	ctx := context.Background()

	_, err := st.Create(store.CreateInput{RecipientID: "s1", Type: notifier.TypeAchievement, Priority: notifier.PriorityLow, Title: "Badge earned"})
	require.NoError(t, err)
	_, err = st.Create(store.CreateInput{RecipientID: "other", Type: notifier.TypeCommunication, Priority: notifier.PriorityLow})
	require.NoError(t, err)
	gen := alert.New(st, discardLogger())
	_, err = gen.Generate(ctx, "s1", alert.Signals{BehavioralIncidents: 5})
	require.NoError(t, err)

	snap, err := newAggregator(p, st).Sync(ctx, "parent", "s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", snap.SubjectID)
	assert.Equal(t, "parent", snap.ViewerID)
	assert.Equal(t, "Ana", snap.Profile.Name)
	assert.False(t, snap.Partial())
	assert.Equal(t, today, snap.GeneratedAt)

	assert.Equal(t, 6, snap.Progress.CompletedActivities)
	assert.Equal(t, 10, snap.Progress.TotalActivities)
	assert.Equal(t, 3, snap.Progress.WeeklyStreak)
	assert.Equal(t, 80, snap.Progress.Overall)

	require.Len(t, snap.Activities, 10)
	for i := 1; i < len(snap.Activities); i++ {
		assert.False(t, snap.Activities[i].DueDate.Before(snap.Activities[i-1].DueDate), "activities ordered by due date")
	}

	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "Badge earned", snap.Notifications[0].Title)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, notifier.CategoryBehavioral, snap.Alerts[0].Category)
	assert.Equal(t, notifier.PriorityUrgent, snap.Alerts[0].Priority)
}

func TestSyncClampsPercentages(t *testing.T) {
	p, st := fixture(t)
	p.SetProgress("s1", notifier.Metrics{Academic: 150, Emotional: -20, Social: 55})
	p.SetActivities("s1", []notifier.Activity{
		{ID: "x", DueDate: today, Progress: 180},
		{ID: "y", DueDate: today, Progress: -5},
	})

	snap, err := newAggregator(p, st).Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)

	assert.Equal(t, 100, snap.Progress.Academic)
	assert.Equal(t, 0, snap.Progress.Emotional)
	assert.Equal(t, 55, snap.Progress.Social)
	assert.Equal(t, 52, snap.Progress.Overall)
	assert.Equal(t, 100, snap.Activities[0].Progress)
	assert.Equal(t, 0, snap.Activities[1].Progress)
	assert.LessOrEqual(t, snap.Progress.CompletedActivities, snap.Progress.TotalActivities)
}

func TestSyncSubjectNotFound(t *testing.T) {
	p, st := fixture(t)
	agg := newAggregator(p, st)
	ctx := context.Background()

	tests := []struct {
		name    string
		viewer  string
		subject string
	}{
		{name: "unknown subject", viewer: "parent", subject: "ghost"},
		{name: "unlinked subject", viewer: "parent", subject: "s2"},
		{name: "empty viewer", viewer: "", subject: "s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := agg.Sync(ctx, tt.viewer, tt.subject)
			assert.Nil(t, snap)
			assert.True(t, notifier.IsSubjectNotFound(err), "got %v", err)
		})
	}
}

func TestSyncProfileFailureFailsCall(t *testing.T) {
	p, st := fixture(t)

	t.Run("error", func(t *testing.T) {
		p.Fail(mock.SourceProfile, errors.New("directory down"))
		defer p.Fail(mock.SourceProfile, nil)

		snap, err := newAggregator(p, st).Sync(context.Background(), "parent", "s1")
		assert.Nil(t, snap)
		assert.ErrorContains(t, err, "directory down")
	})

	t.Run("timeout", func(t *testing.T) {
		p.Delay(mock.SourceProfile, time.Second)
		defer p.Delay(mock.SourceProfile, 0)

		snap, err := newAggregator(p, st, WithSourceTimeout(20*time.Millisecond)).Sync(context.Background(), "parent", "s1")
		assert.Nil(t, snap)
		assert.True(t, notifier.IsTransient(err), "got %v", err)
	})
}

func TestSyncPartialActivities(t *testing.T) {
	p, st := fixture(t)
	p.Fail(mock.SourceActivities, errors.New("activity service unavailable"))

	snap, err := newAggregator(p, st).Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)

	assert.True(t, snap.Partial())
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, SourceActivities, snap.Warnings[0].Source)
	assert.NotNil(t, snap.Activities)
	assert.Empty(t, snap.Activities)
	assert.Equal(t, 0, snap.Progress.TotalActivities)
	assert.Equal(t, 0, snap.Progress.WeeklyStreak)
	assert.Equal(t, 80, snap.Progress.Overall, "progress metrics still come through")
}

func TestSyncPartialProgressTimeout(t *testing.T) {
	p, st := fixture(t)
	p.Delay(mock.SourceProgress, time.Second)

	snap, err := newAggregator(p, st, WithSourceTimeout(20*time.Millisecond)).Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)

	require.Len(t, snap.Warnings, 1)
	w := snap.Warnings[0]
	assert.Equal(t, SourceProgress, w.Source)
	assert.True(t, notifier.IsTransient(w), "timeouts surface as transient errors")
	assert.Equal(t, notifier.Progress{CompletedActivities: 6, TotalActivities: 10, WeeklyStreak: 3}, snap.Progress)
}

type flakyActivities struct {
	calls atomic.Int32
	inner ActivitySource
}

func (f *flakyActivities) Activities(ctx context.Context, subjectID string) ([]notifier.Activity, error) {
	if f.calls.Add(1) == 1 {
		return nil, &notifier.TransientError{Op: "activities", Err: errors.New("connection reset")}
	}
	return f.inner.Activities(ctx, subjectID)
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	p, st := fixture(t)
	flaky := &flakyActivities{inner: p}

	agg := New(p, flaky, p, st, discardLogger(),
		WithClock(func() time.Time { return today }),
		WithRetry(3, time.Millisecond))

	snap, err := agg.Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)
	assert.False(t, snap.Partial())
	assert.Len(t, snap.Activities, 10)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestSyncDoesNotRetryPermanentFailures(t *testing.T) {
	p, st := fixture(t)
	var calls atomic.Int32
	failing := activitiesFunc(func(context.Context, string) ([]notifier.Activity, error) {
		calls.Add(1)
		return nil, errors.New("bad request")
	})

	agg := New(p, failing, p, st, discardLogger(), WithRetry(3, time.Millisecond))
	snap, err := agg.Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)
	assert.True(t, snap.Partial())
	assert.Equal(t, int32(1), calls.Load())
}

type activitiesFunc func(context.Context, string) ([]notifier.Activity, error)

func (f activitiesFunc) Activities(ctx context.Context, subjectID string) ([]notifier.Activity, error) {
	return f(ctx, subjectID)
}

func TestSyncCancelled(t *testing.T) {
	p, st := fixture(t)
	p.Delay(mock.SourceActivities, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	snap, err := newAggregator(p, st, WithSourceTimeout(5*time.Second)).Sync(ctx, "parent", "s1")
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, context.Canceled)
}

// stubbornDirectory ignores its context.
type stubbornDirectory struct{ d time.Duration }

func (s stubbornDirectory) ResolveSubject(context.Context, string, string) (notifier.Profile, error) {
	time.Sleep(s.d)
	return notifier.Profile{ID: "s1"}, nil
}

func TestSyncSourceIgnoringContextTimesOut(t *testing.T) {
	p, st := fixture(t)
	slow := activitiesFunc(func(context.Context, string) ([]notifier.Activity, error) {
		time.Sleep(2 * time.Second)
		return []notifier.Activity{{ID: "late"}}, nil
	})

	agg := New(p, slow, p, st, discardLogger(),
		WithClock(func() time.Time { return today }),
		WithRetry(1, 0),
		WithSourceTimeout(100*time.Millisecond))

	start := time.Now()
	snap, err := agg.Sync(context.Background(), "parent", "s1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, SourceActivities, snap.Warnings[0].Source)
	assert.True(t, notifier.IsTransient(snap.Warnings[0]))
	assert.Empty(t, snap.Activities, "late results are discarded")
	assert.Equal(t, 80, snap.Progress.Overall)
}

func TestSyncDirectoryIgnoringContextTimesOut(t *testing.T) {
	p, st := fixture(t)
	agg := New(stubbornDirectory{d: 2 * time.Second}, p, p, st, discardLogger(),
		WithSourceTimeout(100*time.Millisecond))

	start := time.Now()
	snap, err := agg.Sync(context.Background(), "parent", "s1")
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, snap)
	assert.True(t, notifier.IsTransient(err), "got %v", err)
}

func TestSyncIsFreshEachCall(t *testing.T) {
	p, st := fixture(t)
	agg := newAggregator(p, st)
	ctx := context.Background()

	first, err := agg.Sync(ctx, "parent", "s1")
	require.NoError(t, err)

	_, err = st.Create(store.CreateInput{RecipientID: "s1", Type: notifier.TypeReportAvailable, Priority: notifier.PriorityMedium})
	require.NoError(t, err)

	second, err := agg.Sync(ctx, "parent", "s1")
	require.NoError(t, err)
	assert.Empty(t, first.Notifications)
	assert.Len(t, second.Notifications, 1)
}

func TestWeeklyStreak(t *testing.T) {
	done := func(daysAgo int) notifier.Activity {
		return notifier.Activity{Status: notifier.ActivityCompleted, CompletedAt: at(daysAgo)}
	}

	tests := []struct {
		name       string
		activities []notifier.Activity
		want       int
	}{
		{name: "none", want: 0},
		{name: "today only", activities: []notifier.Activity{done(0)}, want: 1},
		{name: "gap breaks streak", activities: []notifier.Activity{done(0), done(1), done(3)}, want: 2},
		{name: "nothing today", activities: []notifier.Activity{done(1), done(2)}, want: 0},
		{name: "duplicates on a day", activities: []notifier.Activity{done(0), done(0), done(1)}, want: 2},
		{
			name: "not completed",
			activities: []notifier.Activity{
				{Status: notifier.ActivityInProgress, CompletedAt: at(0)},
			},
			want: 0,
		},
		{
			name:       "longer than a week",
			activities: []notifier.Activity{done(0), done(1), done(2), done(3), done(4), done(5), done(6), done(7), done(8)},
			want:       9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeeklyStreak(tt.activities, today))
		})
	}
}

func TestWeeklyStreakUsesClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, loc)
	// 02:00 UTC on the 12th is still the 11th in UTC-5.
	completed := time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)

	acts := []notifier.Activity{{Status: notifier.ActivityCompleted, CompletedAt: &completed}}
	assert.Equal(t, 0, WeeklyStreak(acts, now))
}
