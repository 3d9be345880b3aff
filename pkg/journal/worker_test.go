package journal_test

import (
	"context"
	"strings"
	"testing"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/journal"
	"github.com/tetherkit/tether/pkg/journal/memjournal"
)

func TestWorkerReplayThenLive(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()

	w1, err := journal.NewWorker(ctx, store, "wf")
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if !w1.IsLive() {
		t.Fatalf("fresh worker not live")
	}
	h := w1.Begin("ns", "op", durable.ReadRemote)
	if err := h.Persist(ctx, []byte(`{"q":1}`), durable.Outcome{Output: []byte(`"one"`)}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	h = w1.Begin("ns", "op2", durable.WriteRemote)
	if err := h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`"two"`)}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	w2, err := journal.NewWorker(ctx, store, "wf")
	if err != nil {
		t.Fatalf("restart worker: %v", err)
	}
	if w2.IsLive() {
		t.Fatalf("worker with records reported live")
	}
	out, err := w2.Begin("ns", "op", durable.ReadRemote).Replay(ctx)
	if err != nil {
		t.Fatalf("replay 1: %v", err)
	}
	if string(out.Output) != `"one"` {
		t.Fatalf("replay 1 output = %s", out.Output)
	}
	if w2.IsLive() {
		t.Fatalf("live before journal exhausted")
	}
	if _, err := w2.Begin("ns", "op2", durable.WriteRemote).Replay(ctx); err != nil {
		t.Fatalf("replay 2: %v", err)
	}
	if !w2.IsLive() {
		t.Fatalf("not live after journal exhausted")
	}
	if w2.Replayed() != 2 {
		t.Fatalf("replayed = %d, want 2", w2.Replayed())
	}
}

func TestWorkerReplayMismatch(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()

	w1, _ := journal.NewWorker(ctx, store, "wf")
	h := w1.Begin("llm", "send", durable.WriteRemote)
	if err := h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`{}`)}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	w2, _ := journal.NewWorker(ctx, store, "wf")
	_, err := w2.Begin("vectorstore", "search", durable.ReadRemote).Replay(ctx)
	if err == nil {
		t.Fatalf("mismatched replay succeeded")
	}
	if !strings.Contains(err.Error(), "replay mismatch") {
		t.Fatalf("err = %v, want replay mismatch", err)
	}
}

func TestWorkerReplayInLiveModeFails(t *testing.T) {
	ctx := context.Background()
	w, _ := journal.NewWorker(ctx, memjournal.New(), "wf")
	if _, err := w.Begin("ns", "op", durable.ReadRemote).Replay(ctx); err == nil {
		t.Fatalf("replay in live mode succeeded")
	}
}

func TestSuppressElidesNestedPersists(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()
	w, _ := journal.NewWorker(ctx, store, "wf")

	release := w.Suppress()
	h := w.Begin("inner", "op", durable.ReadRemote)
	if err := h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`{}`)}); err != nil {
		t.Fatalf("suppressed persist: %v", err)
	}
	if store.Len("wf") != 0 {
		t.Fatalf("suppressed persist was journaled")
	}
	release()
	release() // releasing twice must not unbalance the guard

	h = w.Begin("outer", "op", durable.ReadRemote)
	if err := h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`{}`)}); err != nil {
		t.Fatalf("persist after release: %v", err)
	}
	if store.Len("wf") != 1 {
		t.Fatalf("records = %d, want 1", store.Len("wf"))
	}
}

func TestNestedSuppressDepth(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()
	w, _ := journal.NewWorker(ctx, store, "wf")

	r1 := w.Suppress()
	r2 := w.Suppress()
	r1()
	// Still suppressed: r2 holds the guard.
	h := w.Begin("ns", "op", durable.ReadRemote)
	_ = h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`{}`)})
	if store.Len("wf") != 0 {
		t.Fatalf("persist escaped nested guard")
	}
	r2()
	h = w.Begin("ns", "op", durable.ReadRemote)
	_ = h.Persist(ctx, []byte(`{}`), durable.Outcome{Output: []byte(`{}`)})
	if store.Len("wf") != 1 {
		t.Fatalf("records = %d, want 1", store.Len("wf"))
	}
}
