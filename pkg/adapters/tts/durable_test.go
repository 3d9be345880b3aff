package tts_test

import (
	"context"
	"testing"

	"github.com/tetherkit/tether/pkg/adapters/tts"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/journal"
	"github.com/tetherkit/tether/pkg/journal/memjournal"
)

// scriptedTTS plays back queued synthesis scripts and records the text of
// every SynthesizeStream call.
type scriptedTTS struct {
	scripts    [][]tts.SynthesisEvent
	streamText []string
}

func (s *scriptedTTS) Name() string { return "scripted" }

func (s *scriptedTTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{ID: "v1", Name: "Ada"}}, nil
}

func (s *scriptedTTS) GetVoice(ctx context.Context, id string) (tts.Voice, error) {
	return tts.Voice{ID: id}, nil
}

func (s *scriptedTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (tts.Audio, error) {
	return tts.Audio{Data: []byte(text), Format: opts.Format}, nil
}

func (s *scriptedTTS) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesisOptions) (durable.Source[tts.SynthesisEvent], error) {
	s.streamText = append(s.streamText, text)
	var script []tts.SynthesisEvent
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	q := durable.NewQueue[tts.SynthesisEvent](nil)
	q.Push(script...)
	q.Finish()
	return q, nil
}

func (s *scriptedTTS) CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (tts.Voice, error) {
	return tts.Voice{}, errmodel.Unsupported("scripted: no cloning")
}

func chunk(data string, consumed int) tts.SynthesisEvent {
	return tts.SynthesisEvent{Chunk: &tts.AudioChunk{Data: []byte(data), Consumed: consumed}}
}

func newWorker(t *testing.T, store *memjournal.Store, id string) *journal.Worker {
	t.Helper()
	w, err := journal.NewWorker(context.Background(), store, id)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

// An interrupted synthesis stream resumes on the unspoken suffix: the
// consumed-character counts of the journaled chunks decide where the text is
// cut.
func TestSynthesisResumesOnUnspokenSuffix(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()
	text := "Hello there, General Kenobi"

	// First life: chunks covering "Hello there, " (13 characters) arrive.
	p1 := &scriptedTTS{scripts: [][]tts.SynthesisEvent{{chunk("audio-1", 6), chunk("audio-2", 7)}}}
	d1 := tts.NewDurable(newWorker(t, store, "wf"), p1)
	s1, err := d1.SynthesizeStream(ctx, text, tts.SynthesisOptions{VoiceID: "v1"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := s1.GetNext(ctx); err != nil {
		t.Fatalf("get next: %v", err)
	}

	// Second life: the provider should only be asked for the suffix.
	p2 := &scriptedTTS{scripts: [][]tts.SynthesisEvent{{chunk("audio-3", 14), {Done: true}}}}
	d2 := tts.NewDurable(newWorker(t, store, "wf"), p2)
	s2, err := d2.SynthesizeStream(ctx, text, tts.SynthesisOptions{VoiceID: "v1"})
	if err != nil {
		t.Fatalf("replayed stream: %v", err)
	}

	replayed, err := s2.GetNext(ctx)
	if err != nil {
		t.Fatalf("replayed batch: %v", err)
	}
	if len(replayed) != 2 || string(replayed[0].Chunk.Data) != "audio-1" {
		t.Fatalf("replayed batch = %+v", replayed)
	}
	if len(p2.streamText) != 0 {
		t.Fatalf("provider opened during replay")
	}

	rest, err := s2.GetNext(ctx)
	if err != nil {
		t.Fatalf("continuation batch: %v", err)
	}
	if len(rest) != 2 || !rest[1].Done {
		t.Fatalf("continuation batch = %+v", rest)
	}
	if len(p2.streamText) != 1 || p2.streamText[0] != "General Kenobi" {
		t.Fatalf("continuation text = %q", p2.streamText)
	}
}

func TestSynthesisContinuationClampsOverrun(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()
	text := "short"

	// Consumed counts exceeding the text length must not panic the resume.
	p1 := &scriptedTTS{scripts: [][]tts.SynthesisEvent{{chunk("a", 99)}}}
	d1 := tts.NewDurable(newWorker(t, store, "wf"), p1)
	s1, err := d1.SynthesizeStream(ctx, text, tts.SynthesisOptions{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := s1.GetNext(ctx); err != nil {
		t.Fatalf("get next: %v", err)
	}

	p2 := &scriptedTTS{scripts: [][]tts.SynthesisEvent{{{Done: true}}}}
	d2 := tts.NewDurable(newWorker(t, store, "wf"), p2)
	s2, err := d2.SynthesizeStream(ctx, text, tts.SynthesisOptions{})
	if err != nil {
		t.Fatalf("replayed stream: %v", err)
	}
	if _, err := s2.GetNext(ctx); err != nil {
		t.Fatalf("replayed batch: %v", err)
	}
	if _, err := s2.GetNext(ctx); err != nil {
		t.Fatalf("continuation batch: %v", err)
	}
	if p2.streamText[0] != "" {
		t.Fatalf("clamped suffix = %q", p2.streamText[0])
	}
}

func TestSynthesizeReplaysAudio(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()

	d1 := tts.NewDurable(newWorker(t, store, "wf"), &scriptedTTS{})
	audio, err := d1.Synthesize(ctx, "hi", tts.SynthesisOptions{Format: "mp3"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	// The replaying provider returns different audio, which must not be seen.
	d2 := tts.NewDurable(newWorker(t, store, "wf"), &failingTTS{})
	replayed, err := d2.Synthesize(ctx, "hi", tts.SynthesisOptions{Format: "mp3"})
	if err != nil {
		t.Fatalf("replayed synthesize: %v", err)
	}
	if string(replayed.Data) != string(audio.Data) || replayed.Format != "mp3" {
		t.Fatalf("replay diverged: %+v", replayed)
	}
}

// failingTTS errors on every operation; replay must never reach it.
type failingTTS struct{ scriptedTTS }

func (f *failingTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (tts.Audio, error) {
	return tts.Audio{}, errmodel.Internal("should not be called")
}
