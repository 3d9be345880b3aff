// Package gemini implements the Embedder interface on the Gemini embedding
// API.
package gemini

import (
	"context"
	"errors"

	genai "google.golang.org/genai"

	"github.com/tetherkit/tether/pkg/adapters/embedding"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const defaultModel = "gemini-embedding-001"

type client struct {
	client *genai.Client
	model  string
}

func (c *client) Name() string { return "gemini" }

func (c *client) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	model := c.model
	if v, ok := opts["model"].(string); ok && v != "" {
		model = v
	}
	contents := make([]*genai.Content, 0, len(inputs))
	for _, s := range inputs {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: s}}})
	}
	res, err := c.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		var apierr genai.APIError
		if errors.As(err, &apierr) {
			return nil, errmodel.FromStatus(apierr.Code, apierr.Message)
		}
		return nil, errmodel.FromNetwork(err)
	}
	out := make([]embedding.Vector, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		vec := make([]float32, len(emb.Values))
		for i := range emb.Values {
			vec[i] = float32(emb.Values[i])
		}
		out = append(out, embedding.Vector(vec))
	}
	return out, nil
}

// Factory constructs the Gemini embedder. cfg keys: api_key, model.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) {
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
	_ = embedding.Register("gemini", Factory)
}
