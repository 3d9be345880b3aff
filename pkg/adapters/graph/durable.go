package graph

import (
	"context"

	"github.com/tetherkit/tether/pkg/durable"
)

// Namespace is the stable op-id namespace for journaled graph operations.
const Namespace = "graph"

type createVertexInput struct {
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type idInput struct {
	ID string `json:"id"`
}

type updateVertexInput struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties,omitempty"`
}

type deleteVertexInput struct {
	ID     string `json:"id"`
	Detach bool   `json:"detach,omitempty"`
}

type findVerticesInput struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

type createEdgeInput struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

type queryInput struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// Durable wraps a Graph with the journaling layer: every remote call is
// recorded in live mode and served from the journal on replay.
type Durable struct {
	host durable.Host
	impl Graph
}

// NewDurable wraps impl with durability on host.
func NewDurable(host durable.Host, impl Graph) *Durable {
	return &Durable{host: host, impl: impl}
}

// Name returns the underlying provider name.
func (d *Durable) Name() string { return d.impl.Name() }

func (d *Durable) CreateVertex(ctx context.Context, labels []string, properties map[string]any) (Vertex, error) {
	return durable.Call(ctx, d.host, Namespace, "create-vertex", durable.WriteRemote,
		createVertexInput{Labels: labels, Properties: properties},
		func(ctx context.Context, in createVertexInput) (Vertex, error) {
			return d.impl.CreateVertex(ctx, in.Labels, in.Properties)
		})
}

func (d *Durable) GetVertex(ctx context.Context, id string) (Vertex, error) {
	return durable.Call(ctx, d.host, Namespace, "get-vertex", durable.ReadRemote,
		idInput{ID: id},
		func(ctx context.Context, in idInput) (Vertex, error) {
			return d.impl.GetVertex(ctx, in.ID)
		})
}

func (d *Durable) UpdateVertex(ctx context.Context, id string, properties map[string]any) (Vertex, error) {
	return durable.Call(ctx, d.host, Namespace, "update-vertex", durable.WriteRemote,
		updateVertexInput{ID: id, Properties: properties},
		func(ctx context.Context, in updateVertexInput) (Vertex, error) {
			return d.impl.UpdateVertex(ctx, in.ID, in.Properties)
		})
}

func (d *Durable) DeleteVertex(ctx context.Context, id string, detach bool) error {
	_, err := durable.Call(ctx, d.host, Namespace, "delete-vertex", durable.WriteRemote,
		deleteVertexInput{ID: id, Detach: detach},
		func(ctx context.Context, in deleteVertexInput) (struct{}, error) {
			return struct{}{}, d.impl.DeleteVertex(ctx, in.ID, in.Detach)
		})
	return err
}

func (d *Durable) FindVertices(ctx context.Context, label string, properties map[string]any, limit int) ([]Vertex, error) {
	return durable.Call(ctx, d.host, Namespace, "find-vertices", durable.ReadRemote,
		findVerticesInput{Label: label, Properties: properties, Limit: limit},
		func(ctx context.Context, in findVerticesInput) ([]Vertex, error) {
			return d.impl.FindVertices(ctx, in.Label, in.Properties, in.Limit)
		})
}

func (d *Durable) CreateEdge(ctx context.Context, edgeType, from, to string, properties map[string]any) (Edge, error) {
	return durable.Call(ctx, d.host, Namespace, "create-edge", durable.WriteRemote,
		createEdgeInput{Type: edgeType, From: from, To: to, Properties: properties},
		func(ctx context.Context, in createEdgeInput) (Edge, error) {
			return d.impl.CreateEdge(ctx, in.Type, in.From, in.To, in.Properties)
		})
}

func (d *Durable) GetEdge(ctx context.Context, id string) (Edge, error) {
	return durable.Call(ctx, d.host, Namespace, "get-edge", durable.ReadRemote,
		idInput{ID: id},
		func(ctx context.Context, in idInput) (Edge, error) {
			return d.impl.GetEdge(ctx, in.ID)
		})
}

func (d *Durable) DeleteEdge(ctx context.Context, id string) error {
	_, err := durable.Call(ctx, d.host, Namespace, "delete-edge", durable.WriteRemote,
		idInput{ID: id},
		func(ctx context.Context, in idInput) (struct{}, error) {
			return struct{}{}, d.impl.DeleteEdge(ctx, in.ID)
		})
	return err
}

// ExecuteQuery is journaled as a write because the native query language can
// mutate the graph.
func (d *Durable) ExecuteQuery(ctx context.Context, query string, params map[string]any) (QueryResult, error) {
	return durable.Call(ctx, d.host, Namespace, "execute-query", durable.WriteRemote,
		queryInput{Query: query, Params: params},
		func(ctx context.Context, in queryInput) (QueryResult, error) {
			return d.impl.ExecuteQuery(ctx, in.Query, in.Params)
		})
}

func (d *Durable) Ping(ctx context.Context) error {
	_, err := durable.Call(ctx, d.host, Namespace, "ping", durable.ReadRemote,
		struct{}{},
		func(ctx context.Context, _ struct{}) (struct{}, error) {
			return struct{}{}, d.impl.Ping(ctx)
		})
	return err
}
