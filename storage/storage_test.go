package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/pkg/notifier"
)

func newLocal(t *testing.T) (*Archive, string) {
	t.Helper()
	dir := t.TempDir()
	return New(nil, "", dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestRecordKey(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		wantEmpty bool
	}{
		{name: "plain id", recipient: "parent-1"},
		{name: "path traversal attempt", recipient: "../../etc/passwd"},
		{name: "empty", recipient: "", wantEmpty: true},
		{name: "whitespace", recipient: "  ", wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := RecordKey(tt.recipient)
			if tt.wantEmpty {
				assert.Empty(t, key)
				return
			}
			assert.Len(t, key, len(keyPrefix)+64+len(".json"))
			assert.Equal(t, filepath.Base(key), key)
		})
	}
	assert.Equal(t, RecordKey("a"), RecordKey("a"))
	assert.NotEqual(t, RecordKey("a"), RecordKey("b"))
}

func TestAppendAndLoad(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	first := notifier.Notification{ID: "n2", RecipientID: "p1", Type: notifier.TypeAchievement, Priority: notifier.PriorityLow, CreatedAt: base.Add(time.Hour)}
	second := notifier.Notification{ID: "n1", RecipientID: "p1", Type: notifier.TypeCommunication, Priority: notifier.PriorityMedium, CreatedAt: base, Data: map[string]any{"studentId": "s1"}}

	require.NoError(t, a.Append(ctx, "p1", []notifier.Notification{first}))
	require.NoError(t, a.Append(ctx, "p1", []notifier.Notification{second}))

	updated := first
	updated.Read = true
	require.NoError(t, a.Append(ctx, "p1", []notifier.Notification{updated}))

	rec, err := a.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.RecipientID)
	require.Len(t, rec.Notifications, 2)
	assert.Equal(t, "n1", rec.Notifications[0].ID, "records are kept oldest first")
	assert.True(t, rec.Notifications[1].Read, "re-archived notification replaces the old copy")
	assert.Equal(t, "s1", rec.Notifications[0].Data["studentId"])

	info, err := os.Stat(filepath.Join(dir, RecordKey("p1")))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissing(t *testing.T) {
	a, _ := newLocal(t)
	_, err := a.Load(context.Background(), "nobody")
	assert.True(t, IsNotFound(err))
}

func TestListAndDelete(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()

	for _, r := range []string{"p1", "p2"} {
		require.NoError(t, a.Append(ctx, r, []notifier.Notification{{ID: r + "-n", RecipientID: r}}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	recs, err := a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, a.Delete(ctx, "p1"))
	require.NoError(t, a.Delete(ctx, "p1"))

	recs, err = a.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p2", recs[0].RecipientID)
}

func TestAppendNothing(t *testing.T) {
	a, dir := newLocal(t)
	require.NoError(t, a.Append(context.Background(), "p1", nil))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
