package durable

import (
	"testing"
	"time"
)

func TestAlwaysReady(t *testing.T) {
	select {
	case <-AlwaysReady().Ready():
	default:
		t.Fatalf("AlwaysReady not ready")
	}
}

func TestLazyPollableBinding(t *testing.T) {
	lp := NewLazyPollable()
	sub := lp.Subscribe()

	select {
	case <-sub.Ready():
		t.Fatalf("subscription fired before Set")
	case <-time.After(10 * time.Millisecond):
	}
	if lp.IsSet() {
		t.Fatalf("IsSet before Set")
	}

	lp.Set(AlwaysReady())
	if !lp.IsSet() {
		t.Fatalf("IsSet false after Set")
	}
	select {
	case <-sub.Ready():
	case <-time.After(time.Second):
		t.Fatalf("subscription did not fire after Set")
	}

	// Subscriptions taken after binding fire too.
	select {
	case <-lp.Subscribe().Ready():
	case <-time.After(time.Second):
		t.Fatalf("late subscription did not fire")
	}
}

func TestLazyPollableSetTwicePanics(t *testing.T) {
	lp := NewLazyPollable()
	lp.Set(AlwaysReady())
	defer func() {
		if recover() == nil {
			t.Fatalf("second Set did not panic")
		}
	}()
	lp.Set(AlwaysReady())
}

func TestQueuePollAndSubscribe(t *testing.T) {
	q := NewQueue[int](nil)
	if _, ok := q.PollNext(); ok {
		t.Fatalf("empty queue reported data")
	}
	sub := q.Subscribe()
	q.Push(1, 2)
	select {
	case <-sub.Ready():
	case <-time.After(time.Second):
		t.Fatalf("subscriber not woken by push")
	}
	events, ok := q.PollNext()
	if !ok || len(events) != 2 || events[0] != 1 || events[1] != 2 {
		t.Fatalf("poll = %v, %v", events, ok)
	}
	if _, ok := q.PollNext(); ok {
		t.Fatalf("drained queue reported data")
	}

	q.Finish()
	// After finish, subscriptions are immediately ready so pollers can
	// observe the end of stream.
	select {
	case <-q.Subscribe().Ready():
	default:
		t.Fatalf("finished queue subscription not ready")
	}
}

func TestQueueCloseRunsOnCloseOnce(t *testing.T) {
	calls := 0
	q := NewQueue[int](func() { calls++ })
	q.Close()
	q.Close()
	if calls != 1 {
		t.Fatalf("onClose calls = %d, want 1", calls)
	}
}
