package embedding

import (
	"context"

	"github.com/tetherkit/tether/pkg/durable"
)

// Namespace is the stable op-id namespace for journaled embedding operations.
const Namespace = "embedding"

type embedInput struct {
	Inputs []string       `json:"inputs"`
	Opts   map[string]any `json:"opts,omitempty"`
}

// Durable wraps an Embedder so Embed results are journaled in live mode and
// replayed without re-invoking the provider.
type Durable struct {
	host durable.Host
	impl Embedder
}

// NewDurable wraps impl with durability on host.
func NewDurable(host durable.Host, impl Embedder) *Durable {
	return &Durable{host: host, impl: impl}
}

func (d *Durable) Name() string { return d.impl.Name() }

func (d *Durable) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]Vector, error) {
	return durable.Call(ctx, d.host, Namespace, "embed", durable.ReadRemote,
		embedInput{Inputs: inputs, Opts: opts},
		func(ctx context.Context, in embedInput) ([]Vector, error) {
			return d.impl.Embed(ctx, in.Inputs, in.Opts)
		})
}
