package tts

import (
	"context"
	"encoding/json"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Namespace is the stable op-id namespace for journaled TTS operations.
const Namespace = "tts"

// SynthesisInput is the journaled input of a synthesis stream. A replaying
// stream keeps it so the unspoken suffix can be derived once the journal is
// exhausted.
type SynthesisInput struct {
	Text    string           `json:"text"`
	Options SynthesisOptions `json:"options"`
}

// SynthesisStream is the durable synthesis stream handed to callers.
type SynthesisStream = durable.Stream[SynthesisInput, SynthesisEvent]

type voiceIDInput struct {
	ID string `json:"id"`
}

type cloneInput struct {
	Name    string   `json:"name"`
	Samples [][]byte `json:"samples"`
}

// Durable wraps a TTS provider with the journaling layer. SynthesizeStream
// resumes mid-utterance after a restart by re-synthesizing only the suffix of
// the text not yet covered by journaled chunks.
type Durable struct {
	host durable.Host
	impl TTS
}

// NewDurable wraps impl with durability on host.
func NewDurable(host durable.Host, impl TTS) *Durable {
	return &Durable{host: host, impl: impl}
}

// Name returns the underlying provider name.
func (d *Durable) Name() string { return d.impl.Name() }

func (d *Durable) ListVoices(ctx context.Context) ([]Voice, error) {
	return durable.Call(ctx, d.host, Namespace, "list-voices", durable.ReadRemote,
		struct{}{},
		func(ctx context.Context, _ struct{}) ([]Voice, error) {
			return d.impl.ListVoices(ctx)
		})
}

func (d *Durable) GetVoice(ctx context.Context, id string) (Voice, error) {
	return durable.Call(ctx, d.host, Namespace, "get-voice", durable.ReadRemote,
		voiceIDInput{ID: id},
		func(ctx context.Context, in voiceIDInput) (Voice, error) {
			return d.impl.GetVoice(ctx, in.ID)
		})
}

func (d *Durable) Synthesize(ctx context.Context, text string, opts SynthesisOptions) (Audio, error) {
	return durable.Call(ctx, d.host, Namespace, "synthesize", durable.ReadRemote,
		SynthesisInput{Text: text, Options: opts},
		func(ctx context.Context, in SynthesisInput) (Audio, error) {
			return d.impl.Synthesize(ctx, in.Text, in.Options)
		})
}

func (d *Durable) CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (Voice, error) {
	return durable.Call(ctx, d.host, Namespace, "create-voice-clone", durable.WriteRemote,
		cloneInput{Name: name, Samples: samples},
		func(ctx context.Context, in cloneInput) (Voice, error) {
			return d.impl.CreateVoiceClone(ctx, in.Name, in.Samples)
		})
}

// SynthesizeStream opens a durable synthesis stream. On the live path the
// provider stream starts immediately; during replay journaled chunks are
// served first, then synthesis restarts on the remaining text.
func (d *Durable) SynthesizeStream(ctx context.Context, text string, opts SynthesisOptions) (*SynthesisStream, error) {
	input := SynthesisInput{Text: text, Options: opts}
	adapter := synthesisAdapter{impl: d.impl}
	handle := d.host.Begin(Namespace, "synthesize-stream", durable.ReadRemote)

	if handle.IsLive() {
		release := d.host.Suppress()
		upstream, err := d.impl.SynthesizeStream(ctx, text, opts)
		release()

		raw, merr := json.Marshal(input)
		if merr != nil {
			return nil, errmodel.Internal("journal: encode synthesis input", merr)
		}
		outcome := durable.Outcome{}
		if err != nil {
			outcome.Err = errmodel.From(err)
		}
		if perr := handle.Persist(ctx, raw, outcome); perr != nil {
			return nil, errmodel.Internal("journal: persist tts.synthesize-stream", perr)
		}
		if err != nil {
			return nil, errmodel.From(err)
		}
		return durable.NewLiveStream(d.host, Namespace, adapter, upstream), nil
	}

	outcome, err := handle.Replay(ctx)
	if err != nil {
		return nil, errmodel.Internal("journal: replay tts.synthesize-stream", err)
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return durable.NewReplayStream(d.host, Namespace, adapter, input), nil
}

type synthesisAdapter struct {
	impl TTS
}

func (a synthesisAdapter) Open(ctx context.Context, input SynthesisInput) (durable.Source[SynthesisEvent], error) {
	return a.impl.SynthesizeStream(ctx, input.Text, input.Options)
}

// Continuation sums the consumed-character counts of the chunks already
// delivered and resumes synthesis on the remaining rune suffix of the text.
func (a synthesisAdapter) Continuation(original SynthesisInput, partial []SynthesisEvent) SynthesisInput {
	consumed := 0
	for _, ev := range partial {
		if ev.Chunk != nil {
			consumed += ev.Chunk.Consumed
		}
	}
	runes := []rune(original.Text)
	if consumed > len(runes) {
		consumed = len(runes)
	}
	next := original
	next.Text = string(runes[consumed:])
	return next
}

func (a synthesisAdapter) Classify(ev SynthesisEvent) durable.EventClass {
	switch {
	case ev.Done:
		return durable.ClassFinish
	case ev.Err != nil:
		return durable.ClassFailure
	default:
		return durable.ClassDelta
	}
}
