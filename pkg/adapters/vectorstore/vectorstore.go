// Package vectorstore defines the vector database interface, the provider
// registry, and the durable wrapper with a resumable scroll stream.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Vector is a stored vector with its identifier and metadata.
type Vector struct {
	// ID is provider-assigned or caller-provided unique identifier.
	ID string `json:"id"`
	// Values is the dense embedding.
	Values []float32 `json:"values"`
	// Metadata carries arbitrary attributes for filtering and citation.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter constrains search and delete operations. Equals matches exact
// key/value pairs in metadata with AND semantics across keys.
type Filter struct {
	Equals map[string]any `json:"equals,omitempty"`
}

// Query describes a similarity search or scroll request.
type Query struct {
	// Vector is the query embedding. May be empty for pure metadata scrolls.
	Vector []float32 `json:"vector,omitempty"`
	// TopK bounds the number of results per page. Zero means provider default.
	TopK int `json:"top_k,omitempty"`
	// Offset skips results already consumed. Scroll continuation advances it.
	Offset int `json:"offset,omitempty"`
	// Namespace groups vectors within a collection. Providers without
	// namespace support reject non-empty values with unsupported-operation.
	Namespace string `json:"namespace,omitempty"`
	// Filter constrains results by metadata equality.
	Filter Filter `json:"filter,omitempty"`
}

// Match is a search result with its similarity score. Higher is more similar.
type Match struct {
	Vector Vector  `json:"vector"`
	Score  float32 `json:"score"`
}

// ScrollEvent is one element of a scroll stream: exactly one of Hit, Done, or
// Err is set.
type ScrollEvent struct {
	Hit  *Match          `json:"hit,omitempty"`
	Done bool            `json:"done,omitempty"`
	Err  *errmodel.Error `json:"err,omitempty"`
}

// VectorStore defines collection management, point CRUD, similarity search,
// and scrolling over a vector database.
type VectorStore interface {
	// Name returns a short provider name (e.g. "qdrant", "pgvector").
	Name() string
	// CreateCollection creates a collection for vectors of the given dimension.
	CreateCollection(ctx context.Context, collection string, dimension int) error
	// DeleteCollection removes a collection and all its vectors.
	DeleteCollection(ctx context.Context, collection string) error
	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)
	// Upsert inserts or replaces vectors by ID.
	Upsert(ctx context.Context, collection, namespace string, vectors []Vector) error
	// Get fetches vectors by ID. Missing IDs are omitted from the result.
	Get(ctx context.Context, collection, namespace string, ids []string) ([]Vector, error)
	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection, namespace string, ids []string) error
	// DeleteByFilter removes all vectors matching the filter and returns the
	// number removed. Providers whose wire protocol does not report a count
	// return a synthetic count and set synthetic to true.
	DeleteByFilter(ctx context.Context, collection, namespace string, filter Filter) (count int64, synthetic bool, err error)
	// Search returns the top-k most similar vectors to the query.
	Search(ctx context.Context, collection string, query Query) ([]Match, error)
	// Scroll streams all vectors matching the query in pages. Providers
	// without a pagination API return an unsupported-operation error.
	Scroll(ctx context.Context, collection string, query Query) (durable.Source[ScrollEvent], error)
}

// Factory constructs a VectorStore from a provider-specific configuration map.
type Factory func(ctx context.Context, cfg map[string]any) (VectorStore, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a VectorStore factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("vectorstore: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("vectorstore: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("vectorstore: provider %q already registered", name)
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
