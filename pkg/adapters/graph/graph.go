// Package graph defines the property-graph database interface, the provider
// registry, and the durable wrapper.
package graph

import (
	"context"
	"fmt"
	"sync"
)

// Vertex is a labeled node with arbitrary properties.
type Vertex struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a typed, directed connection between two vertices.
type Edge struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// QueryResult is the tabular result of an arbitrary graph query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Graph defines vertex and edge CRUD plus raw query execution against a
// property-graph database.
type Graph interface {
	// Name returns a short provider name (e.g. "neo4j", "arangodb").
	Name() string
	// CreateVertex creates a vertex and returns it with its assigned ID.
	CreateVertex(ctx context.Context, labels []string, properties map[string]any) (Vertex, error)
	// GetVertex fetches a vertex by ID. Missing vertices yield not-found with
	// the element ID populated.
	GetVertex(ctx context.Context, id string) (Vertex, error)
	// UpdateVertex merges properties into an existing vertex and returns the
	// updated vertex.
	UpdateVertex(ctx context.Context, id string, properties map[string]any) (Vertex, error)
	// DeleteVertex removes a vertex. With detach set, incident edges are
	// removed too; without it, deleting a connected vertex is a
	// constraint-violation.
	DeleteVertex(ctx context.Context, id string, detach bool) error
	// FindVertices returns up to limit vertices carrying the label and
	// matching all property equality pairs.
	FindVertices(ctx context.Context, label string, properties map[string]any, limit int) ([]Vertex, error)
	// CreateEdge creates a typed edge between two vertices.
	CreateEdge(ctx context.Context, edgeType, from, to string, properties map[string]any) (Edge, error)
	// GetEdge fetches an edge by ID.
	GetEdge(ctx context.Context, id string) (Edge, error)
	// DeleteEdge removes an edge by ID.
	DeleteEdge(ctx context.Context, id string) error
	// ExecuteQuery runs a raw query in the provider's native language.
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (QueryResult, error)
	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}

// Factory constructs a Graph from a provider-specific configuration map.
type Factory func(ctx context.Context, cfg map[string]any) (Graph, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a Graph factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("graph: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("graph: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("graph: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve retrieves a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range calls fn for each registered provider name and factory.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
