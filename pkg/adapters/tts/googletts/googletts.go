// Package googletts implements the TTS interface on the Google Cloud
// Text-to-Speech REST API. The v1 REST surface has no streaming endpoint, so
// SynthesizeStream renders the whole utterance and emits it as a single
// chunk covering the full text. Voice cloning is not offered.
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/tts"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const defaultBaseURL = "https://texttospeech.googleapis.com"

// Client is a Google Cloud TTS client.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// Factory constructs the Google TTS client. cfg keys: api_key, base_url.
func Factory(ctx context.Context, cfg map[string]any) (tts.TTS, error) {
	opts := map[string]string{}
	for _, k := range []string{"api_key", "base_url"} {
		if v, ok := cfg[k].(string); ok && v != "" {
			opts[k] = v
		}
	}
	apiKey, err := provconf.Resolve("api_key", opts, "GOOGLE_TTS_API_KEY")
	if err != nil {
		return nil, err
	}
	base := provconf.ResolveDefault("base_url", opts, "GOOGLE_TTS_URL", defaultBaseURL)
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("googletts: invalid base_url: " + err.Error())
	}
	return &Client{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

func (c *Client) Name() string { return "googletts" }

func (c *Client) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var resp struct {
		Voices []wireVoice `json:"voices"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/voices", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]tts.Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		out = append(out, v.toVoice())
	}
	return out, nil
}

// GetVoice lists and filters because the REST API has no per-voice endpoint.
func (c *Client) GetVoice(ctx context.Context, id string) (tts.Voice, error) {
	voices, err := c.ListVoices(ctx)
	if err != nil {
		return tts.Voice{}, err
	}
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return tts.Voice{}, errmodel.NotFound(id, "googletts: voice "+id+" not found")
}

func (c *Client) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (tts.Audio, error) {
	body := map[string]any{
		"input": map[string]any{"text": text},
		"voice": voiceSelector(opts),
		"audioConfig": map[string]any{
			"audioEncoding": encoding(opts),
		},
	}
	if opts.SampleRate > 0 {
		body["audioConfig"].(map[string]any)["sampleRateHertz"] = opts.SampleRate
	}
	if opts.Speed > 0 {
		body["audioConfig"].(map[string]any)["speakingRate"] = opts.Speed
	}
	var resp struct {
		AudioContent string `json:"audioContent"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/text:synthesize", body, &resp); err != nil {
		return tts.Audio{}, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return tts.Audio{}, errmodel.Internal("googletts: malformed audio content", err)
	}
	return tts.Audio{Data: data, Format: strings.ToLower(encoding(opts))}, nil
}

// SynthesizeStream renders the full utterance in one request and emits a
// single chunk marked as covering every input character, so a continuation
// after this chunk resumes with an empty suffix.
func (c *Client) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesisOptions) (durable.Source[tts.SynthesisEvent], error) {
	q := durable.NewQueue[tts.SynthesisEvent](nil)
	go func() {
		defer q.Finish()
		audio, err := c.Synthesize(ctx, text, opts)
		if err != nil {
			q.Push(tts.SynthesisEvent{Err: errmodel.From(err)})
			return
		}
		if len(text) > 0 {
			q.Push(tts.SynthesisEvent{Chunk: &tts.AudioChunk{
				Data:     audio.Data,
				Consumed: len([]rune(text)),
			}})
		}
		q.Push(tts.SynthesisEvent{Done: true})
	}()
	return q, nil
}

func (c *Client) CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (tts.Voice, error) {
	return tts.Voice{}, errmodel.Unsupported("googletts: voice cloning is not supported")
}

func (c *Client) call(ctx context.Context, method, p string, body, out any) error {
	var rd io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errmodel.Internal("googletts: encode request", err)
		}
		rd = &buf
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return errmodel.Internal("googletts: build request", err)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errmodel.FromResponse(resp, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errmodel.Internal("googletts: decode response", err)
	}
	return nil
}

func voiceSelector(opts tts.SynthesisOptions) map[string]any {
	sel := map[string]any{"languageCode": "en-US"}
	if opts.VoiceID != "" {
		sel["name"] = opts.VoiceID
		// Voice names embed the language code, e.g. en-GB-Standard-A.
		parts := strings.SplitN(opts.VoiceID, "-", 3)
		if len(parts) >= 2 {
			sel["languageCode"] = parts[0] + "-" + parts[1]
		}
	}
	return sel
}

func encoding(opts tts.SynthesisOptions) string {
	switch strings.ToLower(opts.Format) {
	case "", "mp3":
		return "MP3"
	case "wav", "pcm":
		return "LINEAR16"
	case "ogg":
		return "OGG_OPUS"
	default:
		return strings.ToUpper(opts.Format)
	}
}

type wireVoice struct {
	Name          string   `json:"name"`
	LanguageCodes []string `json:"languageCodes"`
	SSMLGender    string   `json:"ssmlGender"`
}

func (v wireVoice) toVoice() tts.Voice {
	out := tts.Voice{ID: v.Name, Name: v.Name, Gender: strings.ToLower(v.SSMLGender)}
	if len(v.LanguageCodes) > 0 {
		out.Language = v.LanguageCodes[0]
	}
	return out
}

func init() {
	_ = tts.Register("googletts", Factory)
}
