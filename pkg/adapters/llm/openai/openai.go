// Package openai implements the LLM interface on the OpenAI chat completions
// API.
package openai

import (
	"context"
	"errors"

	oa "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/tetherkit/tether/pkg/adapters/llm"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const defaultModel = "gpt-5-nano"

type client struct {
	client oa.Client
	model  string
}

func (c *client) Name() string { return "openai" }

func (c *client) Send(ctx context.Context, messages []llm.Message, cfg llm.Config) (llm.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages, cfg))
	if err != nil {
		return llm.Response{}, mapErr(err)
	}
	out := llm.Response{FinishReason: llm.FinishOther, Model: resp.Model}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			out.Content = []llm.ContentPart{llm.TextPart(choice.Message.Content)}
		}
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:            tc.ID,
				Name:          tc.Function.Name,
				ArgumentsJSON: tc.Function.Arguments,
			})
		}
		out.FinishReason = finishReason(string(choice.FinishReason))
	}
	out.Usage = &llm.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out, nil
}

func (c *client) Stream(ctx context.Context, messages []llm.Message, cfg llm.Config) (durable.Source[llm.StreamEvent], error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages, cfg))
	q := durable.NewQueue[llm.StreamEvent](func() { _ = stream.Close() })

	go func() {
		defer q.Finish()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := llm.StreamDelta{}
			if choice.Delta.Content != "" {
				delta.Content = []llm.ContentPart{llm.TextPart(choice.Delta.Content)}
			}
			for _, tc := range choice.Delta.ToolCalls {
				delta.ToolCalls = append(delta.ToolCalls, llm.ToolCall{
					ID:            tc.ID,
					Name:          tc.Function.Name,
					ArgumentsJSON: tc.Function.Arguments,
				})
			}
			if len(delta.Content) > 0 || len(delta.ToolCalls) > 0 {
				q.Push(llm.StreamEvent{Delta: &delta})
			}
			if choice.FinishReason != "" {
				q.Push(llm.StreamEvent{Finish: &llm.FinishData{Reason: finishReason(choice.FinishReason)}})
			}
		}
		if err := stream.Err(); err != nil {
			q.Push(llm.StreamEvent{Err: mapErr(err)})
		}
	}()
	return q, nil
}

func (c *client) params(messages []llm.Message, cfg llm.Config) oa.ChatCompletionNewParams {
	model := c.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		text := flatten(m.Content)
		switch m.Role {
		case llm.RoleSystem:
			mm = append(mm, oa.SystemMessage(text))
		case llm.RoleAssistant:
			mm = append(mm, oa.AssistantMessage(text))
		default:
			mm = append(mm, oa.UserMessage(text))
		}
	}
	params := oa.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: mm,
	}
	if cfg.Temperature != nil {
		params.Temperature = oa.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens != nil {
		params.MaxCompletionTokens = oa.Int(int64(*cfg.MaxTokens))
	}
	return params
}

func flatten(parts []llm.ContentPart) string {
	var text string
	for _, p := range parts {
		text += p.Text
	}
	return text
}

func finishReason(s string) llm.FinishReason {
	switch s {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return llm.FinishOther
	}
}

func mapErr(err error) *errmodel.Error {
	var apierr *oa.Error
	if errors.As(err, &apierr) {
		return errmodel.FromStatus(apierr.StatusCode, apierr.Error())
	}
	return errmodel.FromNetwork(err)
}

func resolveKey(cfg map[string]any) (string, error) {
	opts := map[string]string{}
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		opts["api_key"] = v
	}
	return provconf.Resolve("api_key", opts, "OPENAI_API_KEY")
}

// Factory constructs the OpenAI provider. cfg keys: api_key, model.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) {
	apiKey, err := resolveKey(cfg)
	if err != nil {
		return nil, err
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	c := oa.NewClient(option.WithAPIKey(apiKey))
	return &client{client: c, model: model}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
