package llm

import (
	"context"
	"encoding/json"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Namespace is the stable op-id namespace for journaled LLM operations.
const Namespace = "llm"

// StreamInput is the journaled input of a stream creation, kept by replaying
// streams so a continuation can be built later.
type StreamInput struct {
	Messages []Message `json:"messages"`
	Config   Config    `json:"config"`
}

// ChatStream is the durable chat stream handed to callers.
type ChatStream = durable.Stream[StreamInput, StreamEvent]

// Durable wraps a provider with the journaling layer. Send is replayed from
// the journal after a restart without re-invoking the provider; Stream
// resumes mid-response by splicing a continuation upstream onto the prefix
// the caller already observed.
type Durable struct {
	host    durable.Host
	impl    LLM
	retryFn RetryPromptFunc
}

// DurableOption configures the wrapper.
type DurableOption func(*Durable)

// WithRetryPrompt overrides the default continuation prompt, e.g. for
// providers that want the prefix tagged as a user message.
func WithRetryPrompt(fn RetryPromptFunc) DurableOption {
	return func(d *Durable) {
		if fn != nil {
			d.retryFn = fn
		}
	}
}

// NewDurable wraps impl with durability on host.
func NewDurable(host durable.Host, impl LLM, opts ...DurableOption) *Durable {
	d := &Durable{host: host, impl: impl, retryFn: DefaultRetryPrompt}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the underlying provider name.
func (d *Durable) Name() string { return d.impl.Name() }

// Send issues a journaled chat completion.
func (d *Durable) Send(ctx context.Context, messages []Message, cfg Config) (Response, error) {
	return durable.Call(ctx, d.host, Namespace, "send", durable.WriteRemote,
		StreamInput{Messages: messages, Config: cfg},
		func(ctx context.Context, in StreamInput) (Response, error) {
			return d.impl.Send(ctx, in.Messages, in.Config)
		})
}

// Stream opens a durable chat stream. On the live path the provider stream
// is instantiated immediately; during replay the returned stream serves
// journaled polls and rebuilds an upstream once the journal is exhausted.
func (d *Durable) Stream(ctx context.Context, messages []Message, cfg Config) (*ChatStream, error) {
	input := StreamInput{Messages: messages, Config: cfg}
	adapter := chatStreamAdapter{impl: d.impl, retryFn: d.retryFn}
	handle := d.host.Begin(Namespace, "stream", durable.WriteRemote)

	if handle.IsLive() {
		release := d.host.Suppress()
		upstream, err := d.impl.Stream(ctx, messages, cfg)
		release()

		raw, merr := json.Marshal(input)
		if merr != nil {
			return nil, errmodel.Internal("journal: encode stream input", merr)
		}
		outcome := durable.Outcome{}
		if err != nil {
			outcome.Err = errmodel.From(err)
		}
		if perr := handle.Persist(ctx, raw, outcome); perr != nil {
			return nil, errmodel.Internal("journal: persist llm.stream", perr)
		}
		if err != nil {
			return nil, errmodel.From(err)
		}
		return durable.NewLiveStream(d.host, Namespace, adapter, upstream), nil
	}

	outcome, err := handle.Replay(ctx)
	if err != nil {
		return nil, errmodel.Internal("journal: replay llm.stream", err)
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return durable.NewReplayStream(d.host, Namespace, adapter, input), nil
}

type chatStreamAdapter struct {
	impl    LLM
	retryFn RetryPromptFunc
}

func (a chatStreamAdapter) Open(ctx context.Context, input StreamInput) (durable.Source[StreamEvent], error) {
	return a.impl.Stream(ctx, input.Messages, input.Config)
}

func (a chatStreamAdapter) Continuation(original StreamInput, partial []StreamEvent) StreamInput {
	deltas := make([]StreamDelta, 0, len(partial))
	for _, ev := range partial {
		if ev.Delta != nil {
			deltas = append(deltas, *ev.Delta)
		}
	}
	return StreamInput{
		Messages: a.retryFn(original.Messages, deltas),
		Config:   original.Config,
	}
}

func (a chatStreamAdapter) Classify(ev StreamEvent) durable.EventClass {
	switch {
	case ev.Finish != nil:
		return durable.ClassFinish
	case ev.Err != nil:
		return durable.ClassFailure
	default:
		return durable.ClassDelta
	}
}
