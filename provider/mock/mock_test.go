package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/alert"
	"edusync/pkg/notifier"
)

func TestResolveSubject(t *testing.T) {
	p := New()
	p.AddSubject(notifier.Profile{ID: "s1", Name: "Ana"})
	p.AddSubject(notifier.Profile{ID: "s2", Name: "Leo"})
	p.Link("parent", "s1")
	ctx := context.Background()

	tests := []struct {
		name    string
		viewer  string
		subject string
		wantErr bool
	}{
		{name: "linked parent", viewer: "parent", subject: "s1"},
		{name: "subject views itself", viewer: "s2", subject: "s2"},
		{name: "unlinked subject", viewer: "parent", subject: "s2", wantErr: true},
		{name: "unknown subject", viewer: "parent", subject: "nobody", wantErr: true},
		{name: "unknown viewer", viewer: "stranger", subject: "s1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := p.ResolveSubject(ctx, tt.viewer, tt.subject)
			if tt.wantErr {
				assert.True(t, notifier.IsSubjectNotFound(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, profile.ID)
		})
	}
}

func TestFailureInjection(t *testing.T) {
	p := New()
	p.AddSubject(notifier.Profile{ID: "s1"})
	boom := errors.New("boom")
	ctx := context.Background()

	p.Fail(SourceActivities, boom)
	_, err := p.Activities(ctx, "s1")
	assert.ErrorIs(t, err, boom)

	_, err = p.Progress(ctx, "s1")
	assert.NoError(t, err, "other sources are unaffected")

	p.Fail(SourceActivities, nil)
	_, err = p.Activities(ctx, "s1")
	assert.NoError(t, err)
}

func TestDelayHonorsContext(t *testing.T) {
	p := New()
	p.Delay(SourceProgress, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Progress(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestActivitiesAreCopies(t *testing.T) {
	p := New()
	p.SetActivities("s1", []notifier.Activity{{ID: "a1", Progress: 10}})

	got, err := p.Activities(context.Background(), "s1")
	require.NoError(t, err)
	got[0].Progress = 99

	again, err := p.Activities(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, again[0].Progress)

	none, err := p.Activities(context.Background(), "unknown")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSignals(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	p := New()
	p.SetClock(func() time.Time { return now })
	p.AddSubject(notifier.Profile{ID: "s1"})
	p.SetActivities("s1", []notifier.Activity{
		{ID: "a1", DueDate: now.Add(-24 * time.Hour), Status: notifier.ActivityCompleted},
		{ID: "a2", DueDate: now.Add(-48 * time.Hour), Status: notifier.ActivityPending},
	})
	ctx := context.Background()

	derived, err := p.Signals(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, derived.CompletionRate)
	assert.InDelta(t, 50, *derived.CompletionRate, 0.001)

	explicit := alert.Signals{BehavioralIncidents: 4, MoodScores: []float64{30}}
	p.SetSignals("s1", explicit)
	got, err := p.Signals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = p.Signals(ctx, "nobody")
	assert.Error(t, err)
}

func TestDemoIsDeterministic(t *testing.T) {
	now := time.Date(2026, 9, 14, 15, 30, 0, 0, time.UTC)
	a := Demo(42, now)
	b := Demo(42, now)
	ctx := context.Background()

	for _, id := range []string{"student-1", "student-2"} {
		profile, err := a.ResolveSubject(ctx, "parent-1", id)
		require.NoError(t, err)
		assert.Equal(t, id, profile.ID)

		actsA, err := a.Activities(ctx, id)
		require.NoError(t, err)
		actsB, err := b.Activities(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, actsA, actsB)
		assert.Len(t, actsA, len(activityTitles))

		for _, act := range actsA {
			assert.GreaterOrEqual(t, act.Progress, 0)
			assert.LessOrEqual(t, act.Progress, 100)
			if act.Status == notifier.ActivityCompleted {
				require.NotNil(t, act.CompletedAt)
				assert.False(t, act.CompletedAt.After(now), "completion in the future")
			}
		}

		progA, err := a.Progress(ctx, id)
		require.NoError(t, err)
		progB, err := b.Progress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, progA, progB)
	}

	_, err := a.ResolveSubject(ctx, "parent-2", "student-1")
	assert.True(t, notifier.IsSubjectNotFound(err))
}
