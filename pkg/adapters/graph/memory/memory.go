// Package memory is an in-memory Graph implementation intended for tests and
// examples. ExecuteQuery is not supported because there is no native query
// language to execute.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tetherkit/tether/pkg/adapters/graph"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Store is the in-memory Graph.
type Store struct {
	mu       sync.RWMutex
	vertices map[string]graph.Vertex
	edges    map[string]graph.Edge
}

// New creates a new empty in-memory graph.
func New() *Store {
	return &Store{
		vertices: make(map[string]graph.Vertex),
		edges:    make(map[string]graph.Edge),
	}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) CreateVertex(ctx context.Context, labels []string, properties map[string]any) (graph.Vertex, error) {
	v := graph.Vertex{
		ID:         uuid.NewString(),
		Labels:     append([]string(nil), labels...),
		Properties: cloneProps(properties),
	}
	s.mu.Lock()
	s.vertices[v.ID] = v
	s.mu.Unlock()
	return v, nil
}

func (s *Store) GetVertex(ctx context.Context, id string) (graph.Vertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vertices[id]
	if !ok {
		return graph.Vertex{}, errmodel.NotFound(id, "memory: vertex "+id+" not found")
	}
	return v, nil
}

func (s *Store) UpdateVertex(ctx context.Context, id string, properties map[string]any) (graph.Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vertices[id]
	if !ok {
		return graph.Vertex{}, errmodel.NotFound(id, "memory: vertex "+id+" not found")
	}
	merged := cloneProps(v.Properties)
	if merged == nil {
		merged = make(map[string]any, len(properties))
	}
	for k, val := range properties {
		merged[k] = val
	}
	v.Properties = merged
	s.vertices[id] = v
	return v, nil
}

func (s *Store) DeleteVertex(ctx context.Context, id string, detach bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vertices[id]; !ok {
		return errmodel.NotFound(id, "memory: vertex "+id+" not found")
	}
	var incident []string
	for eid, e := range s.edges {
		if e.From == id || e.To == id {
			incident = append(incident, eid)
		}
	}
	if len(incident) > 0 && !detach {
		return errmodel.New(errmodel.KindConstraintViolation,
			"memory: vertex "+id+" still has edges", nil)
	}
	for _, eid := range incident {
		delete(s.edges, eid)
	}
	delete(s.vertices, id)
	return nil
}

func (s *Store) FindVertices(ctx context.Context, label string, properties map[string]any, limit int) ([]graph.Vertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Vertex
	for _, v := range s.vertices {
		if label != "" && !hasLabel(v.Labels, label) {
			continue
		}
		if !propsMatch(v.Properties, properties) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateEdge(ctx context.Context, edgeType, from, to string, properties map[string]any) (graph.Edge, error) {
	if edgeType == "" {
		return graph.Edge{}, errmodel.InvalidInput("memory: empty edge type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vertices[from]; !ok {
		return graph.Edge{}, errmodel.NotFound(from, "memory: vertex "+from+" not found")
	}
	if _, ok := s.vertices[to]; !ok {
		return graph.Edge{}, errmodel.NotFound(to, "memory: vertex "+to+" not found")
	}
	e := graph.Edge{
		ID:         uuid.NewString(),
		Type:       edgeType,
		From:       from,
		To:         to,
		Properties: cloneProps(properties),
	}
	s.edges[e.ID] = e
	return e, nil
}

func (s *Store) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.Edge{}, errmodel.NotFound(id, "memory: edge "+id+" not found")
	}
	return e, nil
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return errmodel.NotFound(id, "memory: edge "+id+" not found")
	}
	delete(s.edges, id)
	return nil
}

func (s *Store) ExecuteQuery(ctx context.Context, query string, params map[string]any) (graph.QueryResult, error) {
	return graph.QueryResult{}, errmodel.Unsupported("memory: no native query language")
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func propsMatch(have, want map[string]any) bool {
	if len(want) == 0 {
		return true
	}
	if have == nil {
		return false
	}
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Factory registers the in-memory graph.
func Factory(ctx context.Context, cfg map[string]any) (graph.Graph, error) {
	return New(), nil
}

func init() {
	_ = graph.Register("memory", Factory)
}
