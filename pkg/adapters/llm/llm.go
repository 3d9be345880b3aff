// Package llm defines the chat interface all LLM providers implement, the
// provider registry, and the durable wrapper that journals every call and
// makes streamed responses survivable across worker restarts.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one piece of message content: either text or an image URL.
type ContentPart struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// TextPart is shorthand for a plain text content part.
func TextPart(s string) ContentPart { return ContentPart{Text: s} }

// Message is a single chat message.
type Message struct {
	Role    Role          `json:"role"`
	Name    string        `json:"name,omitempty"`
	Content []ContentPart `json:"content"`
}

// Text builds a message with a single text part.
func Text(role Role, s string) Message {
	return Message{Role: role, Content: []ContentPart{TextPart(s)}}
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Config carries per-request model settings. Options holds provider-specific
// connection settings resolved through provconf.
type Config struct {
	Model         string            `json:"model,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// Usage reports token consumption when the provider exposes it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// FinishReason tells why the model stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishOther         FinishReason = "other"
)

// Response is the full result of a non-streaming send.
type Response struct {
	Content      []ContentPart `json:"content"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	FinishReason FinishReason  `json:"finish_reason"`
	Usage        *Usage        `json:"usage,omitempty"`
	Model        string        `json:"model,omitempty"`
}

// StreamDelta is one incremental chunk of a streamed response.
type StreamDelta struct {
	Content   []ContentPart `json:"content,omitempty"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
}

// FinishData terminates a streamed response.
type FinishData struct {
	Reason FinishReason `json:"reason"`
	Usage  *Usage       `json:"usage,omitempty"`
}

// StreamEvent is the union carried by chat streams. Exactly one field is
// set; failures travel in-band so journaled poll outcomes stay infallible.
type StreamEvent struct {
	Delta  *StreamDelta    `json:"delta,omitempty"`
	Finish *FinishData     `json:"finish,omitempty"`
	Err    *errmodel.Error `json:"err,omitempty"`
}

// LLM is the provider interface. Stream returns the raw upstream source; use
// the durable wrapper to get crash-safe streaming.
type LLM interface {
	// Name returns the provider name (e.g. "openai").
	Name() string
	// Send issues a blocking chat completion.
	Send(ctx context.Context, messages []Message, cfg Config) (Response, error)
	// Stream opens the provider's streaming completion.
	Stream(ctx context.Context, messages []Message, cfg Config) (durable.Source[StreamEvent], error)
}

// Factory constructs an LLM from provider-specific config.
type Factory func(ctx context.Context, cfg map[string]any) (LLM, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an LLM factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
