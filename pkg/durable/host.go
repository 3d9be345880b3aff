package durable

import "context"

// Host is the set of journaling primitives the durable layer consumes. The
// canonical implementation is journal.Worker; tests may substitute their own.
//
// Hosts are single-writer: all wrapped calls of one worker execute on one
// goroutine, and journal entries are totally ordered by write time.
type Host interface {
	// Begin opens a journaled scope for one operation, identified by the
	// stable (namespace, function) pair.
	Begin(namespace, function string, ft FunctionType) Handle

	// Suppress raises the persistence-scope guard: until the returned release
	// function is called, Persist calls issued by nested handles are elided.
	// The wrapper writes one entry for itself; whatever instrumented
	// primitives the adapter touches inside the guard are not re-journaled.
	Suppress() (release func())

	// IsLive reports the worker's current mode without opening a scope.
	IsLive() bool
}

// Handle is a journaled scope for a single operation invocation.
type Handle interface {
	// IsLive reports whether the worker is executing for the first time. In
	// live mode wrapped calls hit the provider and persist entries; during
	// replay they consume entries instead.
	IsLive() bool

	// Persist appends the entry for this invocation. A persistence failure is
	// fatal for the call; the wrapper surfaces it without retrying.
	Persist(ctx context.Context, input []byte, outcome Outcome) error

	// Replay consumes the next journal entry for this operation. The host is
	// responsible for ordering; an entry with a different op-id means the
	// runtime invariant is broken and the error is fatal.
	Replay(ctx context.Context) (Outcome, error)
}
