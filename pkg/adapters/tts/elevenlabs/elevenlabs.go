// Package elevenlabs implements the TTS interface on the ElevenLabs HTTP
// API. Streaming uses the with-timestamps endpoint so each chunk reports how
// many input characters it covers, which the durable layer needs to resume an
// interrupted utterance.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/tts"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoice   = "21m00Tcm4TlvDq8ikWAM"
)

// Client is an ElevenLabs-backed TTS.
type Client struct {
	baseURL *url.URL
	apiKey  string
	model   string
	http    *http.Client
}

// Factory constructs the ElevenLabs client. cfg keys: api_key, base_url,
// model.
func Factory(ctx context.Context, cfg map[string]any) (tts.TTS, error) {
	opts := map[string]string{}
	for _, k := range []string{"api_key", "base_url", "model"} {
		if v, ok := cfg[k].(string); ok && v != "" {
			opts[k] = v
		}
	}
	apiKey, err := provconf.Resolve("api_key", opts, "ELEVENLABS_API_KEY")
	if err != nil {
		return nil, err
	}
	base := provconf.ResolveDefault("base_url", opts, "ELEVENLABS_BASE_URL", defaultBaseURL)
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("elevenlabs: invalid base_url: " + err.Error())
	}
	return &Client{
		baseURL: u,
		apiKey:  apiKey,
		model:   provconf.ResolveDefault("model", opts, "ELEVENLABS_MODEL", defaultModel),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

func (c *Client) Name() string { return "elevenlabs" }

func (c *Client) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var resp struct {
		Voices []wireVoice `json:"voices"`
	}
	if err := c.getJSON(ctx, "/v1/voices", &resp); err != nil {
		return nil, err
	}
	out := make([]tts.Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		out = append(out, v.toVoice())
	}
	return out, nil
}

func (c *Client) GetVoice(ctx context.Context, id string) (tts.Voice, error) {
	var v wireVoice
	if err := c.getJSON(ctx, path.Join("/v1/voices", id), &v); err != nil {
		e := errmodel.From(err)
		if e.Kind == errmodel.KindNotFound && e.ElementID == "" {
			e.ElementID = id
		}
		return tts.Voice{}, e
	}
	return v.toVoice(), nil
}

func (c *Client) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (tts.Audio, error) {
	body, err := json.Marshal(c.synthesisBody(text, opts))
	if err != nil {
		return tts.Audio{}, errmodel.Internal("elevenlabs: encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		path.Join("/v1/text-to-speech", voiceID(opts)), bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return tts.Audio{}, errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return tts.Audio{}, errmodel.FromResponse(resp, string(raw))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, errmodel.FromNetwork(err)
	}
	return tts.Audio{Data: data, Format: format(opts)}, nil
}

// SynthesizeStream streams chunked audio with character alignment. The
// response body is a sequence of JSON objects, one per audio chunk.
func (c *Client) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesisOptions) (durable.Source[tts.SynthesisEvent], error) {
	body, err := json.Marshal(c.synthesisBody(text, opts))
	if err != nil {
		return nil, errmodel.Internal("elevenlabs: encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		path.Join("/v1/text-to-speech", voiceID(opts), "stream", "with-timestamps"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errmodel.FromNetwork(err)
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, errmodel.FromResponse(resp, string(raw))
	}

	q := durable.NewQueue[tts.SynthesisEvent](func() { _ = resp.Body.Close() })
	go func() {
		defer q.Finish()
		defer func() { _ = resp.Body.Close() }()
		dec := json.NewDecoder(resp.Body)
		for {
			var chunk struct {
				AudioBase64 string `json:"audio_base64"`
				Alignment   *struct {
					Characters []string `json:"characters"`
				} `json:"alignment"`
			}
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					q.Push(tts.SynthesisEvent{Done: true})
					return
				}
				q.Push(tts.SynthesisEvent{Err: errmodel.FromNetwork(err)})
				return
			}
			data, derr := base64.StdEncoding.DecodeString(chunk.AudioBase64)
			if derr != nil {
				q.Push(tts.SynthesisEvent{Err: errmodel.Internal("elevenlabs: malformed audio chunk", derr)})
				return
			}
			consumed := 0
			if chunk.Alignment != nil {
				consumed = len(chunk.Alignment.Characters)
			}
			q.Push(tts.SynthesisEvent{Chunk: &tts.AudioChunk{Data: data, Consumed: consumed}})
		}
	}()
	return q, nil
}

// CreateVoiceClone uploads samples as a multipart form to the voices/add
// endpoint.
func (c *Client) CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (tts.Voice, error) {
	if name == "" {
		return tts.Voice{}, errmodel.InvalidInput("elevenlabs: empty clone name")
	}
	if len(samples) == 0 {
		return tts.Voice{}, errmodel.InvalidInput("elevenlabs: at least one sample required")
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("name", name); err != nil {
		return tts.Voice{}, errmodel.Internal("elevenlabs: encode form", err)
	}
	for i, sample := range samples {
		fw, err := w.CreateFormFile("files", fmt.Sprintf("sample-%d.mp3", i))
		if err != nil {
			return tts.Voice{}, errmodel.Internal("elevenlabs: encode form", err)
		}
		if _, err := fw.Write(sample); err != nil {
			return tts.Voice{}, errmodel.Internal("elevenlabs: encode form", err)
		}
	}
	if err := w.Close(); err != nil {
		return tts.Voice{}, errmodel.Internal("elevenlabs: encode form", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/voices/add", &buf)
	if err != nil {
		return tts.Voice{}, err
	}
	req.Header.Set("content-type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return tts.Voice{}, errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return tts.Voice{}, errmodel.FromResponse(resp, string(raw))
	}
	var created struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return tts.Voice{}, errmodel.Internal("elevenlabs: decode response", err)
	}
	return tts.Voice{ID: created.VoiceID, Name: name}, nil
}

func (c *Client) synthesisBody(text string, opts tts.SynthesisOptions) map[string]any {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	body := map[string]any{"text": text, "model_id": model}
	if opts.Speed > 0 {
		body["voice_settings"] = map[string]any{"speed": opts.Speed}
	}
	return body
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errmodel.Internal("elevenlabs: build request", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, p string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
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
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errmodel.Internal("elevenlabs: decode response", err)
	}
	return nil
}

func voiceID(opts tts.SynthesisOptions) string {
	if opts.VoiceID != "" {
		return opts.VoiceID
	}
	return defaultVoice
}

func format(opts tts.SynthesisOptions) string {
	if opts.Format != "" {
		return opts.Format
	}
	return "mp3"
}

type wireVoice struct {
	VoiceID string            `json:"voice_id"`
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels"`
}

func (v wireVoice) toVoice() tts.Voice {
	out := tts.Voice{ID: v.VoiceID, Name: v.Name, Labels: v.Labels}
	if v.Labels != nil {
		out.Language = v.Labels["language"]
		out.Gender = v.Labels["gender"]
	}
	return out
}

func init() {
	_ = tts.Register("elevenlabs", Factory)
}
