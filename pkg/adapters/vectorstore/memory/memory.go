// Package memory is an in-memory VectorStore implementation intended for
// tests and examples.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

const defaultNamespace = "default"

type collection struct {
	dimension  int
	namespaces map[string]map[string]vectorstore.Vector // namespace -> id -> vector
}

// Store is the in-memory VectorStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates a new empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if name == "" {
		return errmodel.InvalidInput("memory: empty collection name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return errmodel.New(errmodel.KindAlreadyExists, "memory: collection "+name+" already exists", nil)
	}
	s.collections[name] = &collection{
		dimension:  dimension,
		namespaces: make(map[string]map[string]vectorstore.Vector),
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; !exists {
		return errmodel.NotFound(name, "memory: collection "+name+" not found")
	}
	delete(s.collections, name)
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Upsert(ctx context.Context, coll, namespace string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ns := orDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(coll)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if v.ID == "" {
			return errmodel.InvalidInput("memory: empty vector id")
		}
		if c.dimension > 0 && len(v.Values) != c.dimension {
			return errmodel.New(errmodel.KindSchemaViolation, "memory: vector dimension mismatch", nil)
		}
		bucket, ok := c.namespaces[ns]
		if !ok {
			bucket = make(map[string]vectorstore.Vector)
			c.namespaces[ns] = bucket
		}
		bucket[v.ID] = v
	}
	return nil
}

func (s *Store) Get(ctx context.Context, coll, namespace string, ids []string) ([]vectorstore.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(coll)
	if err != nil {
		return nil, err
	}
	bucket := c.namespaces[orDefault(namespace)]
	out := make([]vectorstore.Vector, 0, len(ids))
	for _, id := range ids {
		if v, ok := bucket[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, coll, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(coll)
	if err != nil {
		return err
	}
	bucket := c.namespaces[orDefault(namespace)]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, coll, namespace string, filter vectorstore.Filter) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(coll)
	if err != nil {
		return 0, false, err
	}
	bucket := c.namespaces[orDefault(namespace)]
	var count int64
	for id, v := range bucket {
		if metaEquals(v.Metadata, filter.Equals) {
			delete(bucket, id)
			count++
		}
	}
	return count, false, nil
}

func (s *Store) Search(ctx context.Context, coll string, query vectorstore.Query) ([]vectorstore.Match, error) {
	matches, err := s.collect(coll, query)
	if err != nil {
		return nil, err
	}
	matches = window(matches, query.Offset, query.TopK)
	return matches, nil
}

// Scroll pages through all matches eagerly. The store is local, so the whole
// result set is pushed into a finished queue up front.
func (s *Store) Scroll(ctx context.Context, coll string, query vectorstore.Query) (durable.Source[vectorstore.ScrollEvent], error) {
	matches, err := s.collect(coll, query)
	if err != nil {
		return nil, err
	}
	matches = window(matches, query.Offset, 0)
	q := durable.NewQueue[vectorstore.ScrollEvent](nil)
	for i := range matches {
		m := matches[i]
		q.Push(vectorstore.ScrollEvent{Hit: &m})
	}
	q.Push(vectorstore.ScrollEvent{Done: true})
	q.Finish()
	return q, nil
}

// collect gathers and scores every vector matching the query, sorted by score
// descending with ID as tiebreaker for deterministic pagination.
func (s *Store) collect(coll string, query vectorstore.Query) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(coll)
	if err != nil {
		return nil, err
	}
	bucket := c.namespaces[orDefault(query.Namespace)]

	var qnorm float64
	if len(query.Vector) > 0 {
		qnorm = math.Sqrt(dot(query.Vector, query.Vector))
		if qnorm == 0 {
			return nil, errmodel.InvalidInput("memory: zero-norm query vector")
		}
	}

	matches := make([]vectorstore.Match, 0, len(bucket))
	for _, v := range bucket {
		if !metaEquals(v.Metadata, query.Filter.Equals) {
			continue
		}
		var score float32
		if qnorm > 0 {
			if len(v.Values) != len(query.Vector) {
				continue
			}
			score = cosine(query.Vector, v.Values, qnorm)
		}
		matches = append(matches, vectorstore.Match{Vector: v, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Vector.ID < matches[j].Vector.ID
	})
	return matches, nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(coll string) (*collection, error) {
	c, ok := s.collections[coll]
	if !ok {
		return nil, errmodel.NotFound(coll, "memory: collection "+coll+" not found")
	}
	return c, nil
}

func window(matches []vectorstore.Match, offset, topK int) []vectorstore.Match {
	if offset > 0 {
		if offset >= len(matches) {
			return nil
		}
		matches = matches[offset:]
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func orDefault(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

func metaEquals(have map[string]any, want map[string]any) bool {
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

func cosine(a, b []float32, qnorm float64) float32 {
	denom := qnorm * math.Sqrt(dot(b, b))
	if denom == 0 {
		return 0
	}
	return float32(dot(a, b) / denom)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Factory registers the in-memory store.
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	return New(), nil
}

func init() {
	_ = vectorstore.Register("memory", Factory)
}
