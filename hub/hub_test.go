package hub

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/pkg/notifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, id)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func note(id string) notifier.Notification {
	return notifier.Notification{ID: id, RecipientID: "p1", Type: notifier.TypeCommunication, Priority: notifier.PriorityLow}
}

func TestPublishPreservesOrder(t *testing.T) {
	h := New(testLogger())
	defer h.Close()

	rec := &recorder{}
	h.Subscribe("p1", func(n notifier.Notification) error {
		rec.add(n.ID)
		return nil
	})

	want := []string{"a", "b", "c", "d", "e"}
	for _, id := range want {
		h.Publish("p1", note(id))
	}

	require.Eventually(t, func() bool { return len(rec.ids()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.ids())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(testLogger())
	defer h.Close()

	rec := &recorder{}
	token := h.Subscribe("p1", func(n notifier.Notification) error {
		rec.add(n.ID)
		return nil
	})

	h.Publish("p1", note("first"))
	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)

	h.Unsubscribe(token)
	h.Unsubscribe(token) // idempotent
	h.Unsubscribe("unknown-token")
	h.Publish("p1", note("second"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"first"}, rec.ids())
	assert.Zero(t, h.Count("p1"))
}

func TestNoHistoricalReplay(t *testing.T) {
	h := New(testLogger())
	defer h.Close()

	h.Publish("p1", note("before"))

	rec := &recorder{}
	h.Subscribe("p1", func(n notifier.Notification) error {
		rec.add(n.ID)
		return nil
	})
	h.Publish("p1", note("after"))

	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"after"}, rec.ids())
}

func TestSubscriberIsolation(t *testing.T) {
	var (
		mu     sync.Mutex
		errs   []error
		failed = errors.New("boom")
	)
	h := New(testLogger(), WithErrorSink(func(_, _ string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}))
	defer h.Close()

	h.Subscribe("p1", func(notifier.Notification) error { return failed })
	h.Subscribe("p1", func(notifier.Notification) error { panic("listener crashed") })

	rec := &recorder{}
	h.Subscribe("p1", func(n notifier.Notification) error {
		rec.add(n.ID)
		return nil
	})

	h.Publish("p1", note("n1"))

	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var sawFailed bool
	for _, err := range errs {
		if errors.Is(err, failed) {
			sawFailed = true
		}
	}
	assert.True(t, sawFailed, "callback error should reach the sink wrapped")
}

func TestUnsubscribeInsideCallback(t *testing.T) {
	h := New(testLogger())
	defer h.Close()

	var (
		token string
		calls int
		mu    sync.Mutex
	)
	ready := make(chan struct{})
	token = h.Subscribe("p1", func(notifier.Notification) error {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		h.Unsubscribe(token)
		return nil
	})
	close(ready)

	other := &recorder{}
	h.Subscribe("p1", func(n notifier.Notification) error {
		other.add(n.ID)
		return nil
	})

	h.Publish("p1", note("x"))
	h.Publish("p1", note("y"))

	require.Eventually(t, func() bool { return len(other.ids()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"x", "y"}, other.ids())
	assert.Equal(t, 1, h.Count("p1"))
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	var dropped int
	var mu sync.Mutex
	h := New(testLogger(), WithQueueSize(2), WithErrorSink(func(_, _ string, err error) {
		if errors.Is(err, ErrSubscriberLagging) {
			mu.Lock()
			dropped++
			mu.Unlock()
		}
	}))

	release := make(chan struct{})
	h.Subscribe("p1", func(notifier.Notification) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			h.Publish("p1", note("n"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	h.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, dropped)
}

func TestSubscribersReceiveIndependentCopies(t *testing.T) {
	h := New(testLogger())
	defer h.Close()

	got := make(chan notifier.Notification, 2)
	h.Subscribe("p1", func(n notifier.Notification) error {
		n.Data["mutated"] = true
		got <- n
		return nil
	})
	h.Subscribe("p1", func(n notifier.Notification) error {
		got <- n
		return nil
	})

	n := note("shared")
	n.Data = map[string]any{"studentId": "s1"}
	h.Publish("p1", n)

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	_, leaked := n.Data["mutated"]
	assert.False(t, leaked)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(testLogger())
	h.Subscribe("p1", func(notifier.Notification) error { return nil })
	h.Close()
	h.Close()
	assert.Zero(t, h.Count("p1"))
}
