package durable

import "sync"

// Pollable is a readiness handle for a stream. The returned channel is closed
// (or receives a value) when the stream may have data; callers then drain
// PollNext until it reports no events.
type Pollable interface {
	Ready() <-chan struct{}
}

// readyPollable is always ready. Used by in-process sources whose PollNext
// never blocks.
type readyPollable struct{ ch chan struct{} }

// AlwaysReady returns a Pollable that is permanently ready.
func AlwaysReady() Pollable {
	p := &readyPollable{ch: make(chan struct{})}
	close(p.ch)
	return p
}

func (p *readyPollable) Ready() <-chan struct{} { return p.ch }

// LazyPollable is a notifier handle that can be handed out before a live
// upstream exists. Subscribing before Set yields a Pollable that fires only
// after Set has bound the real notifier; the handle's identity is stable
// across the Replay to Live transition, so callers never re-subscribe.
type LazyPollable struct {
	mu    sync.Mutex
	inner Pollable
	bound chan struct{}
	set   bool
}

// NewLazyPollable returns an unbound lazy pollable.
func NewLazyPollable() *LazyPollable {
	return &LazyPollable{bound: make(chan struct{})}
}

// Set binds the real notifier. It must be called exactly once; a second call
// panics, as rebinding would break the identity guarantee.
func (l *LazyPollable) Set(p Pollable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		panic("durable: LazyPollable.Set called twice")
	}
	l.inner = p
	l.set = true
	close(l.bound)
}

// IsSet reports whether the real notifier has been bound.
func (l *LazyPollable) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set
}

// Subscribe returns a Pollable backed by this handle. Before Set it never
// fires; after Set it forwards the bound notifier's readiness.
func (l *LazyPollable) Subscribe() Pollable {
	out := make(chan struct{})
	go func() {
		<-l.bound
		l.mu.Lock()
		inner := l.inner
		l.mu.Unlock()
		<-inner.Ready()
		close(out)
	}()
	return chanPollable(out)
}

type chanPollable chan struct{}

func (c chanPollable) Ready() <-chan struct{} { return c }
