package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tetherkit/tether/pkg/durable"
)

// Worker implements durable.Host over a Store. On construction it loads the
// worker's existing records; wrapped calls consume them in order (replay
// mode) until the cursor is exhausted, at which point the worker flips to
// live mode permanently and starts appending.
//
// A Worker is single-writer by contract: all wrapped calls of one worker run
// on one goroutine, so no locking is applied to the cursor or the guard
// depth.
type Worker struct {
	store    Store
	workerID string

	pending []Record
	cursor  int
	seq     int64
	depth   int
}

// NewWorker loads any previously journaled records for workerID and returns
// a host that will replay them before going live.
func NewWorker(ctx context.Context, store Store, workerID string) (*Worker, error) {
	if workerID == "" {
		return nil, fmt.Errorf("journal: workerID is empty")
	}
	var pending []Record
	var after int64
	for {
		batch, err := store.List(ctx, workerID, after, 512)
		if err != nil {
			return nil, fmt.Errorf("journal: load records for %s: %w", workerID, err)
		}
		pending = append(pending, batch...)
		if len(batch) < 512 {
			break
		}
		after = batch[len(batch)-1].Seq
	}
	seq := int64(0)
	if len(pending) > 0 {
		seq = pending[len(pending)-1].Seq
	}
	return &Worker{store: store, workerID: workerID, pending: pending, seq: seq}, nil
}

// IsLive reports whether the replay cursor is exhausted.
func (w *Worker) IsLive() bool { return w.cursor >= len(w.pending) }

// Suppress raises the persistence-scope guard. Persist calls issued while
// the guard is held are elided; the outer wrapper persists its own entry
// after releasing.
func (w *Worker) Suppress() func() {
	w.depth++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		w.depth--
	}
}

// Begin opens a journaled scope for one operation.
func (w *Worker) Begin(namespace, function string, ft durable.FunctionType) durable.Handle {
	return &handle{w: w, namespace: namespace, function: function, ft: ft}
}

// Replayed reports how many records have been consumed so far.
func (w *Worker) Replayed() int { return w.cursor }

type handle struct {
	w         *Worker
	namespace string
	function  string
	ft        durable.FunctionType
}

func (h *handle) IsLive() bool { return h.w.IsLive() }

func (h *handle) Persist(ctx context.Context, input []byte, outcome durable.Outcome) error {
	if h.w.depth > 0 {
		// Nested instrumentation inside a persistence-scope guard is elided;
		// the outer wrapper records the net input/output.
		return nil
	}
	var errRaw json.RawMessage
	if outcome.Err != nil {
		raw, err := json.Marshal(outcome.Err)
		if err != nil {
			return fmt.Errorf("journal: encode error outcome: %w", err)
		}
		errRaw = raw
	}
	h.w.seq++
	rec := Record{
		ID:           uuid.NewString(),
		WorkerID:     h.w.workerID,
		Seq:          h.w.seq,
		Namespace:    h.namespace,
		Function:     h.function,
		FunctionType: h.ft,
		Input:        input,
		Output:       outcome.Output,
		Error:        errRaw,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := h.w.store.Append(ctx, rec); err != nil {
		h.w.seq--
		return fmt.Errorf("journal: append %s.%s: %w", h.namespace, h.function, err)
	}
	return nil
}

func (h *handle) Replay(ctx context.Context) (durable.Outcome, error) {
	if h.w.IsLive() {
		return durable.Outcome{}, fmt.Errorf("journal: replay requested in live mode for %s.%s", h.namespace, h.function)
	}
	rec := h.w.pending[h.w.cursor]
	if rec.Namespace != h.namespace || rec.Function != h.function {
		// Ordering between recorded and replayed calls diverged; the runtime
		// invariant is broken and the worker must not continue.
		return durable.Outcome{}, fmt.Errorf(
			"journal: replay mismatch: recorded %s.%s at seq %d, requested %s.%s",
			rec.Namespace, rec.Function, rec.Seq, h.namespace, h.function)
	}
	h.w.cursor++
	outcome, err := rec.outcome()
	if err != nil {
		return durable.Outcome{}, fmt.Errorf("journal: decode recorded outcome at seq %d: %w", rec.Seq, err)
	}
	return outcome, nil
}
