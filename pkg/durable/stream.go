package durable

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tetherkit/tether/pkg/errmodel"
)

// EventClass tells the durable stream how to treat a replayed event.
type EventClass int

const (
	// ClassDelta events are accumulated into the partial result during replay
	// and later fed to the adapter's continuation builder.
	ClassDelta EventClass = iota
	// ClassFinish marks the normal end of the stream.
	ClassFinish
	// ClassFailure marks an in-band stream error; like finish, it is terminal.
	ClassFailure
)

// Source is the provider-side stream contract. PollNext is non-blocking: it
// returns the buffered events and true, or false when nothing is available
// yet. In-band failures are delivered as events (ClassFailure), never as a
// separate error channel, so the journaled poll outcomes stay infallible.
type Source[T any] interface {
	PollNext() ([]T, bool)
	Subscribe() Pollable
	Close()
}

// StreamAdapter supplies the per-domain pieces the durable stream needs to
// rebuild a live upstream after replay.
type StreamAdapter[I, T any] interface {
	// Open instantiates the real provider stream for the given input.
	Open(ctx context.Context, input I) (Source[T], error)

	// Continuation derives a new input that elicits only the remainder, given
	// the original input and the partial result observed during replay. It
	// must be pure: the first live poll after the transition is journaled,
	// and second-order replays depend on the same continuation being built.
	Continuation(original I, partial []T) I

	// Classify decides whether an event is a delta, a finish, or a failure.
	Classify(event T) EventClass
}

type streamMode int

const (
	modeReplay streamMode = iota
	modeLive
)

// Stream is the durable two-state machine over a provider stream. It starts
// in Replay after a restart (or Live on first execution) and transitions
// Replay to Live exactly once, splicing a continuation upstream onto the
// prefix the caller already observed.
//
// A Stream is owned by a single worker goroutine; it is not safe for
// concurrent use, matching the host's single-threaded cooperative model.
type Stream[I, T any] struct {
	host      Host
	namespace string
	adapter   StreamAdapter[I, T]

	mode      streamMode
	upstream  Source[T]
	original  I
	partial   []T
	finished  bool
	pollables []*LazyPollable

	subscription Pollable
	closed       bool
}

// pollOutcome is the journaled payload of one poll_next invocation.
type pollOutcome[T any] struct {
	Events []T  `json:"events,omitempty"`
	Some   bool `json:"some"`
}

// NewLiveStream wraps an already-open provider stream. Used by the wrapped
// create-stream call on its live path.
func NewLiveStream[I, T any](host Host, namespace string, adapter StreamAdapter[I, T], upstream Source[T]) *Stream[I, T] {
	return &Stream[I, T]{
		host:      host,
		namespace: namespace,
		adapter:   adapter,
		mode:      modeLive,
		upstream:  upstream,
	}
}

// NewReplayStream builds the Replay variant carrying the original input, so a
// continuation can be constructed once the journal is exhausted.
func NewReplayStream[I, T any](host Host, namespace string, adapter StreamAdapter[I, T], original I) *Stream[I, T] {
	return &Stream[I, T]{
		host:      host,
		namespace: namespace,
		adapter:   adapter,
		mode:      modeReplay,
		original:  original,
	}
}

// PollNext returns the next batch of stream events, or ok=false when no data
// is available yet. Every invocation in live mode journals exactly one entry;
// during replay it consumes exactly one.
func (s *Stream[I, T]) PollNext(ctx context.Context) ([]T, bool, error) {
	handle := s.host.Begin(s.namespace, "poll_next", ReadRemote)
	if handle.IsLive() {
		return s.pollLive(ctx, handle)
	}
	return s.pollReplay(ctx, handle)
}

func (s *Stream[I, T]) pollLive(ctx context.Context, handle Handle) ([]T, bool, error) {
	switch s.mode {
	case modeLive:
		release := s.host.Suppress()
		events, some := s.upstream.PollNext()
		release()
		if err := s.persistPoll(ctx, handle, events, some); err != nil {
			return nil, false, err
		}
		s.absorb(events)
		return events, some, nil

	case modeReplay:
		if s.finished {
			if err := s.persistPoll(ctx, handle, nil, false); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}

		// Journal drained mid-stream: build the continuation and splice a new
		// upstream onto the replayed prefix.
		cont := s.adapter.Continuation(s.original, s.partial)

		release := s.host.Suppress()
		upstream, err := s.adapter.Open(ctx, cont)
		if err != nil {
			release()
			return nil, false, errmodel.From(err)
		}
		for _, lp := range s.pollables {
			lp.Set(upstream.Subscribe())
		}
		events, some := upstream.PollNext()
		release()

		if err := s.persistPoll(ctx, handle, events, some); err != nil {
			return nil, false, err
		}

		s.transitionSpan(ctx)
		s.mode = modeLive
		s.upstream = upstream
		s.partial = nil
		s.pollables = nil
		s.absorb(events)
		return events, some, nil

	default:
		return nil, false, errmodel.Internal("durable stream: invalid state")
	}
}

func (s *Stream[I, T]) pollReplay(ctx context.Context, handle Handle) ([]T, bool, error) {
	if s.mode == modeLive {
		return nil, false, errmodel.Internal("durable stream: live state while host is replaying")
	}
	outcome, err := handle.Replay(ctx)
	if err != nil {
		return nil, false, errmodel.Internal("journal: replay "+s.namespace+".poll_next", err)
	}
	var result pollOutcome[T]
	if err := json.Unmarshal(outcome.Output, &result); err != nil {
		return nil, false, errmodel.Internal("journal: replayed poll entry has unexpected shape", err)
	}
	if result.Some {
		for _, ev := range result.Events {
			switch s.adapter.Classify(ev) {
			case ClassDelta:
				s.partial = append(s.partial, ev)
			case ClassFinish, ClassFailure:
				s.finished = true
			}
		}
	}
	return result.Events, result.Some, nil
}

// absorb latches the terminal state off a live batch, so post-finish polls
// never reopen an upstream and GetNext can stop without another journal entry.
func (s *Stream[I, T]) absorb(events []T) {
	for _, ev := range events {
		switch s.adapter.Classify(ev) {
		case ClassFinish, ClassFailure:
			s.finished = true
		}
	}
}

// GetNext blocks until PollNext yields a batch, waiting on the stream's
// notifier between polls while the worker is live. Once a finish or failure
// event has been delivered it returns an empty batch immediately.
func (s *Stream[I, T]) GetNext(ctx context.Context) ([]T, error) {
	for {
		if s.finished {
			return nil, nil
		}
		events, some, err := s.PollNext(ctx)
		if err != nil {
			return nil, err
		}
		if some {
			return events, nil
		}
		// During host replay the next journal entry is always available
		// without waiting.
		if !s.host.IsLive() {
			continue
		}
		s.subscription = s.Subscribe()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.subscription.Ready():
		}
	}
}

// Subscribe returns a notifier for this stream. In Replay state the notifier
// is a lazy pollable bound to the live upstream at the transition, keeping
// the handle's identity stable across the mode change.
func (s *Stream[I, T]) Subscribe() Pollable {
	switch s.mode {
	case modeLive:
		return s.upstream.Subscribe()
	default:
		lp := NewLazyPollable()
		s.pollables = append(s.pollables, lp)
		return lp.Subscribe()
	}
}

// Close releases the upstream and clears pollables. Teardown runs under the
// persistence-scope guard and is never journaled.
func (s *Stream[I, T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	release := s.host.Suppress()
	defer release()
	s.pollables = nil
	if s.upstream != nil {
		s.upstream.Close()
		s.upstream = nil
	}
}

func (s *Stream[I, T]) persistPoll(ctx context.Context, handle Handle, events []T, some bool) error {
	raw, err := json.Marshal(pollOutcome[T]{Events: events, Some: some})
	if err != nil {
		return errmodel.Internal("journal: encode poll outcome", err)
	}
	if err := handle.Persist(ctx, []byte("{}"), Outcome{Output: raw}); err != nil {
		return errmodel.Internal("journal: persist "+s.namespace+".poll_next", err)
	}
	return nil
}

func (s *Stream[I, T]) transitionSpan(ctx context.Context) {
	_, span := otel.Tracer("durable").Start(ctx, s.namespace+".stream_resume", trace.WithAttributes(
		attribute.String("durable.namespace", s.namespace),
		attribute.Int("durable.partial_events", len(s.partial)),
		attribute.Int("durable.pollables_bound", len(s.pollables)),
	))
	span.End()
}
