// Package fake is a scripted LLM provider for tests and offline use. Sends
// echo the last user message; streams play back queued event scripts, one
// script per Stream call, which makes crash/replay scenarios deterministic.
package fake

import (
	"context"
	"sync"

	"github.com/tetherkit/tether/pkg/adapters/llm"
	"github.com/tetherkit/tether/pkg/durable"
)

// StreamCall records the input of one Stream invocation for assertions.
type StreamCall struct {
	Messages []llm.Message
	Config   llm.Config
}

// Provider is the scripted fake.
type Provider struct {
	mu      sync.Mutex
	scripts [][]llm.StreamEvent

	// SendFn overrides the default echo behavior when set.
	SendFn func(ctx context.Context, messages []llm.Message, cfg llm.Config) (llm.Response, error)

	SendCalls   int
	StreamCalls []StreamCall
}

// New returns an empty fake provider.
func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "fake" }

// QueueStream appends a script; the next Stream call consumes it.
func (p *Provider) QueueStream(events ...llm.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, events)
}

func (p *Provider) Send(ctx context.Context, messages []llm.Message, cfg llm.Config) (llm.Response, error) {
	p.mu.Lock()
	p.SendCalls++
	fn := p.SendFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, messages, cfg)
	}
	var last string
	for _, m := range messages {
		if m.Role == llm.RoleUser && len(m.Content) > 0 {
			last = m.Content[0].Text
		}
	}
	return llm.Response{
		Content:      []llm.ContentPart{llm.TextPart("echo: " + last)},
		FinishReason: llm.FinishStop,
		Model:        "fake-1",
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []llm.Message, cfg llm.Config) (durable.Source[llm.StreamEvent], error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Messages: messages, Config: cfg})
	var script []llm.StreamEvent
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	p.mu.Unlock()

	q := durable.NewQueue[llm.StreamEvent](nil)
	q.Push(script...)
	q.Finish()
	return q, nil
}

// Factory registers the fake provider.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) {
	return New(), nil
}

func init() {
	_ = llm.Register("fake", Factory)
}
