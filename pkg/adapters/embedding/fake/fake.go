// Package fake is a scripted embedder for tests and offline use. By default
// vectors are derived from SHA-256 of the input string, so equal inputs embed
// equally across runs; EmbedFn scripts other behaviors, error paths included.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/tetherkit/tether/pkg/adapters/embedding"
)

// Embedder is the scripted fake.
type Embedder struct {
	dim int

	// EmbedFn overrides the hash-based behavior when set.
	EmbedFn func(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error)

	mu         sync.Mutex
	EmbedCalls int
}

// New returns a new fake embedder with the given dimension (>= 4).
func New(dim int) *Embedder {
	if dim < 4 {
		dim = 4
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) Name() string { return "fake" }

func (e *Embedder) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	e.mu.Lock()
	e.EmbedCalls++
	fn := e.EmbedFn
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, inputs, opts)
	}

	// Fold opts keys into an extra seed sorted by key, so output stays
	// stable regardless of map iteration order.
	var optSeed uint64
	if len(opts) > 0 {
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h := sha256.Sum256([]byte(k))
			optSeed ^= binary.LittleEndian.Uint64(h[:8])
		}
	}

	out := make([]embedding.Vector, len(inputs))
	for i, s := range inputs {
		vec := make(embedding.Vector, e.dim)
		h := sha256.Sum256([]byte(s))
		for j := 0; j < e.dim; j++ {
			off := (j * 4) % len(h)
			u := binary.LittleEndian.Uint32(h[off : off+4])
			u ^= uint32(optSeed)
			// Scale to [0,1) then shift to [-0.5, 0.5).
			vec[j] = (float32(u&0x7FFFFFFF) / float32(1<<31)) - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

// Factory registers the fake embedder; cfg key: dim.
func Factory(ctx context.Context, cfg map[string]any) (embedding.Embedder, error) {
	dim := 16
	if v, ok := cfg["dim"].(int); ok && v > 0 {
		dim = v
	}
	return New(dim), nil
}

func init() {
	_ = embedding.Register("fake", Factory)
}
