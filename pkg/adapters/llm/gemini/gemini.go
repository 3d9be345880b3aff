// Package gemini implements the LLM interface on the Gemini API.
package gemini

import (
	"context"
	"errors"

	genai "google.golang.org/genai"

	"github.com/tetherkit/tether/pkg/adapters/llm"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const defaultModel = "gemini-2.5-flash-lite"

type client struct {
	client *genai.Client
	model  string
}

func (c *client) Name() string { return "gemini" }

func (c *client) Send(ctx context.Context, messages []llm.Message, cfg llm.Config) (llm.Response, error) {
	model, contents, genCfg := c.request(messages, cfg)
	res, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return llm.Response{}, mapErr(err)
	}
	out := llm.Response{FinishReason: llm.FinishStop, Model: model}
	if text := res.Text(); text != "" {
		out.Content = []llm.ContentPart{llm.TextPart(text)}
	}
	return out, nil
}

func (c *client) Stream(ctx context.Context, messages []llm.Message, cfg llm.Config) (durable.Source[llm.StreamEvent], error) {
	model, contents, genCfg := c.request(messages, cfg)
	q := durable.NewQueue[llm.StreamEvent](nil)

	go func() {
		defer q.Finish()
		for res, err := range c.client.Models.GenerateContentStream(ctx, model, contents, genCfg) {
			if err != nil {
				q.Push(llm.StreamEvent{Err: mapErr(err)})
				return
			}
			if text := res.Text(); text != "" {
				q.Push(llm.StreamEvent{Delta: &llm.StreamDelta{
					Content: []llm.ContentPart{llm.TextPart(text)},
				}})
			}
		}
		q.Push(llm.StreamEvent{Finish: &llm.FinishData{Reason: llm.FinishStop}})
	}()
	return q, nil
}

func (c *client) request(messages []llm.Message, cfg llm.Config) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := c.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Content))
		for _, p := range m.Content {
			if p.Text != "" {
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	var genCfg *genai.GenerateContentConfig
	if cfg.Temperature != nil || cfg.MaxTokens != nil || len(cfg.StopSequences) > 0 {
		genCfg = &genai.GenerateContentConfig{StopSequences: cfg.StopSequences}
		if cfg.Temperature != nil {
			genCfg.Temperature = genai.Ptr(float32(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			genCfg.MaxOutputTokens = int32(*cfg.MaxTokens)
		}
	}
	return model, contents, genCfg
}

func mapErr(err error) *errmodel.Error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return errmodel.FromStatus(apierr.Code, apierr.Message)
	}
	return errmodel.FromNetwork(err)
}

// Factory constructs the Gemini provider. cfg keys: api_key, model.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) {
	opts := map[string]string{}
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		opts["api_key"] = v
	}
	apiKey, err := provconf.Resolve("api_key", opts, "GOOGLE_API_KEY")
	if err != nil {
		return nil, err
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	return &client{client: gc, model: model}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
