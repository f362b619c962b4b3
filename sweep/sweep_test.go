package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/pkg/notifier"
	"edusync/storage"
	"edusync/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seeded returns a store with notifications created at start, start+1h, ...
func seeded(t *testing.T, start time.Time, recipient string, n int) (*store.Store, []notifier.Notification) {
	t.Helper()
	i := 0
	st := store.New(nil, discardLogger(), store.WithClock(func() time.Time {
		ts := start.Add(time.Duration(i) * time.Hour)
		i++
		return ts
	}))

	var out []notifier.Notification
	for range n {
		created, err := st.Create(store.CreateInput{
			RecipientID: recipient,
			Type:        notifier.TypeCommunication,
			Priority:    notifier.PriorityLow,
			Title:       "Newsletter",
		})
		require.NoError(t, err)
		out = append(out, created)
	}
	return st, out
}

func TestCheckAllArchivesThenDeletes(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, created := seeded(t, start, "p1", 4)

	_, err := st.MarkRead(created[0].ID)
	require.NoError(t, err)
	_, err = st.MarkRead(created[1].ID)
	require.NoError(t, err)
	_, err = st.MarkRead(created[3].ID) // read but too recent
	require.NoError(t, err)

	archive := storage.New(nil, "", t.TempDir(), discardLogger())
	now := start.Add(30 * 24 * time.Hour)
	s := New(st, archive, 30*24*time.Hour-2*time.Hour, discardLogger(), WithClock(func() time.Time { return now }))

	res, err := s.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 1, Archived: 2, Deleted: 2}, res)

	remaining := st.List("p1", store.Filter{})
	require.Len(t, remaining, 2)
	assert.Equal(t, created[3].ID, remaining[0].ID)
	assert.Equal(t, created[2].ID, remaining[1].ID, "unread notifications are never expired")

	rec, err := archive.Load(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, rec.Notifications, 2)
	assert.Equal(t, created[0].ID, rec.Notifications[0].ID)
	assert.True(t, rec.Notifications[0].Read)

	res, err = s.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted, "second sweep finds nothing")
}

type failingArchive struct{}

func (failingArchive) Append(context.Context, string, []notifier.Notification) error {
	return errors.New("bucket unavailable")
}

func TestCheckAllKeepsNotificationsWhenArchiveFails(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, created := seeded(t, start, "p1", 1)
	_, err := st.MarkRead(created[0].ID)
	require.NoError(t, err)

	s := New(st, failingArchive{}, time.Hour, discardLogger(), WithClock(func() time.Time { return start.Add(48 * time.Hour) }))
	res, err := s.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Deleted)
	assert.Len(t, st.List("p1", store.Filter{}), 1)
}

func TestCheckAllWithoutArchive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, created := seeded(t, start, "p1", 2)
	st.MarkAllRead("p1")

	s := New(st, nil, time.Hour, discardLogger(), WithClock(func() time.Time { return start.Add(48 * time.Hour) }))
	res, err := s.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 0, res.Archived)

	// Expired ids behave like deleted ones.
	assert.NoError(t, st.Delete(created[0].ID))
}

func TestCheckAllDisabled(t *testing.T) {
	st, _ := seeded(t, time.Now().Add(-time.Hour*1000), "p1", 1)
	st.MarkAllRead("p1")

	res, err := New(st, nil, 0, discardLogger()).CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, st.List("p1", store.Filter{}), 1)
}

func TestCheckAllCancelled(t *testing.T) {
	st, _ := seeded(t, time.Now(), "p1", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(st, nil, time.Hour, discardLogger()).CheckAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStopsOnCancel(t *testing.T) {
	start := time.Now().Add(-48 * time.Hour)
	st, _ := seeded(t, start, "p1", 1)
	st.MarkAllRead("p1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(st, nil, time.Hour, discardLogger()).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(st.List("p1", store.Filter{})) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
