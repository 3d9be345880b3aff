// Package openai implements the Embedder interface on the OpenAI embeddings
// API.
package openai

import (
	"context"
	"errors"

	oa "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/tetherkit/tether/pkg/adapters/embedding"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const defaultModel = "text-embedding-3-small"

type client struct {
	client oa.Client
	model  string
}

func (c *client) Name() string { return "openai" }

func (c *client) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	model := c.model
	if v, ok := opts["model"].(string); ok && v != "" {
		model = v
	}
	resp, err := c.client.Embeddings.New(ctx, oa.EmbeddingNewParams{
		Model: oa.EmbeddingModel(model),
		Input: oa.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		var apierr *oa.Error
		if errors.As(err, &apierr) {
			return nil, errmodel.FromStatus(apierr.StatusCode, apierr.Error())
		}
		return nil, errmodel.FromNetwork(err)
	}
	out := make([]embedding.Vector, 0, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			vec[i] = float32(d.Embedding[i])
		}
		out = append(out, embedding.Vector(vec))
	}
	return out, nil
}

// Factory constructs the OpenAI embedder. cfg keys: api_key, model.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) {
	opts := map[string]string{}
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		opts["api_key"] = v
	}
	apiKey, err := provconf.Resolve("api_key", opts, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	return &client{client: oa.NewClient(option.WithAPIKey(apiKey)), model: model}, nil
}

func init() {
	_ = embedding.Register("openai", Factory)
}
