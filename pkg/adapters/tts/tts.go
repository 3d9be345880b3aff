// Package tts defines the text-to-speech interface, the provider registry,
// and the durable wrapper with a resumable synthesis stream.
package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Voice describes an available synthesis voice.
type Voice struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Language string            `json:"language,omitempty"`
	Gender   string            `json:"gender,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// SynthesisOptions selects the voice and output encoding.
type SynthesisOptions struct {
	VoiceID    string  `json:"voice_id"`
	Model      string  `json:"model,omitempty"`
	Format     string  `json:"format,omitempty"` // e.g. "mp3", "wav", "pcm"
	SampleRate int     `json:"sample_rate,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

// Audio is a complete synthesized utterance.
type Audio struct {
	Data   []byte `json:"data"`
	Format string `json:"format,omitempty"`
}

// AudioChunk is one streamed fragment of synthesized audio. Consumed is the
// number of input characters the chunk covers; accumulated counts let an
// interrupted stream resume from the unspoken suffix of the text.
type AudioChunk struct {
	Data     []byte `json:"data"`
	Consumed int    `json:"consumed"`
}

// SynthesisEvent is one element of a synthesis stream: exactly one of Chunk,
// Done, or Err is set.
type SynthesisEvent struct {
	Chunk *AudioChunk     `json:"chunk,omitempty"`
	Done  bool            `json:"done,omitempty"`
	Err   *errmodel.Error `json:"err,omitempty"`
}

// TTS defines voice discovery, synthesis, and voice cloning against a
// text-to-speech service.
type TTS interface {
	// Name returns a short provider name (e.g. "elevenlabs", "googletts").
	Name() string
	// ListVoices returns the voices available to the caller.
	ListVoices(ctx context.Context) ([]Voice, error)
	// GetVoice fetches a single voice by ID.
	GetVoice(ctx context.Context, id string) (Voice, error)
	// Synthesize renders the whole text as one audio payload.
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Audio, error)
	// SynthesizeStream streams audio chunks as they are rendered.
	SynthesizeStream(ctx context.Context, text string, opts SynthesisOptions) (durable.Source[SynthesisEvent], error)
	// CreateVoiceClone builds a custom voice from audio samples. Providers
	// without cloning return an unsupported-operation error.
	CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (Voice, error)
}

// Factory constructs a TTS from a provider-specific configuration map.
type Factory func(ctx context.Context, cfg map[string]any) (TTS, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a TTS factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("tts: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("tts: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("tts: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve retrieves a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range calls fn for each registered provider name and factory.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
