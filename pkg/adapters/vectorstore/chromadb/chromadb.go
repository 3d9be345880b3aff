// Package chromadb implements the VectorStore interface on the Chroma HTTP
// API. Namespaces are folded into a reserved metadata key because Chroma has
// no native namespace concept; scrolling is not supported by the wire
// protocol.
package chromadb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

// namespaceKey is the reserved metadata key carrying the caller namespace.
const namespaceKey = "__namespace"

// Store is a Chroma-backed VectorStore.
type Store struct {
	baseURL *url.URL
	http    *http.Client

	mu       sync.RWMutex
	nameToID map[string]string // cache: collection name -> id
}

// Factory constructs a Chroma-backed VectorStore. cfg keys: base_url.
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	opts := map[string]string{}
	if v, ok := cfg["base_url"].(string); ok && v != "" {
		opts["base_url"] = v
	}
	base := provconf.ResolveDefault("base_url", opts, "CHROMADB_URL", "http://localhost:8000")
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("chromadb: invalid base_url: " + err.Error())
	}
	return &Store{
		baseURL:  u,
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		nameToID: make(map[string]string),
	}, nil
}

func (s *Store) Name() string { return "chromadb" }

func (s *Store) CreateCollection(ctx context.Context, coll string, dimension int) error {
	var created collection
	err := s.postJSON(ctx, "/api/v1/collections", createCollectionRequest{Name: coll}, &created)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nameToID[coll] = created.ID
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, coll string) error {
	if err := s.deleteReq(ctx, path.Join("/api/v1/collections", coll)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.nameToID, coll)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var list []collection
	if err := s.getJSON(ctx, "/api/v1/collections", &list); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Store) Upsert(ctx context.Context, coll, namespace string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	id, err := s.collectionID(ctx, coll)
	if err != nil {
		return err
	}
	payload := upsertRequest{
		IDs:        make([]string, 0, len(vectors)),
		Embeddings: make([][]float32, 0, len(vectors)),
		Metadatas:  make([]map[string]any, 0, len(vectors)),
	}
	for _, v := range vectors {
		payload.IDs = append(payload.IDs, v.ID)
		payload.Embeddings = append(payload.Embeddings, v.Values)
		payload.Metadatas = append(payload.Metadatas, withNamespace(v.Metadata, namespace))
	}
	return s.postJSON(ctx, path.Join("/api/v1/collections", id, "upsert"), payload, nil)
}

func (s *Store) Get(ctx context.Context, coll, namespace string, ids []string) ([]vectorstore.Vector, error) {
	id, err := s.collectionID(ctx, coll)
	if err != nil {
		return nil, err
	}
	payload := getRequest{
		IDs:     ids,
		Where:   namespaceWhere(namespace, nil),
		Include: []string{"embeddings", "metadatas"},
	}
	var resp getResponse
	if err := s.postJSON(ctx, path.Join("/api/v1/collections", id, "get"), payload, &resp); err != nil {
		return nil, err
	}
	out := make([]vectorstore.Vector, 0, len(resp.IDs))
	for i, vid := range resp.IDs {
		v := vectorstore.Vector{ID: vid}
		if i < len(resp.Embeddings) {
			v.Values = resp.Embeddings[i]
		}
		if i < len(resp.Metadatas) {
			v.Metadata = stripNamespace(resp.Metadatas[i])
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, coll, namespace string, ids []string) error {
	id, err := s.collectionID(ctx, coll)
	if err != nil {
		return err
	}
	payload := deleteRequest{IDs: ids, Where: namespaceWhere(namespace, nil)}
	return s.postJSON(ctx, path.Join("/api/v1/collections", id, "delete"), payload, nil)
}

// DeleteByFilter deletes by metadata filter. Chroma echoes the deleted IDs,
// so the returned count is exact.
func (s *Store) DeleteByFilter(ctx context.Context, coll, namespace string, filter vectorstore.Filter) (int64, bool, error) {
	id, err := s.collectionID(ctx, coll)
	if err != nil {
		return 0, false, err
	}
	payload := deleteRequest{Where: namespaceWhere(namespace, filter.Equals)}
	var deleted []string
	if err := s.postJSON(ctx, path.Join("/api/v1/collections", id, "delete"), payload, &deleted); err != nil {
		return 0, false, err
	}
	return int64(len(deleted)), false, nil
}

func (s *Store) Search(ctx context.Context, coll string, query vectorstore.Query) ([]vectorstore.Match, error) {
	id, err := s.collectionID(ctx, coll)
	if err != nil {
		return nil, err
	}
	k := query.TopK
	if k <= 0 {
		k = 10
	}
	payload := queryRequest{
		QueryEmbeddings: [][]float32{query.Vector},
		NResults:        k + query.Offset,
		Where:           namespaceWhere(query.Namespace, query.Filter.Equals),
		Include:         []string{"distances", "metadatas", "embeddings"},
	}
	var resp queryResponse
	if err := s.postJSON(ctx, path.Join("/api/v1/collections", id, "query"), payload, &resp); err != nil {
		return nil, err
	}
	// Response fields are nested per query; one query was sent, so index 0.
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	ids := resp.IDs[0]
	var dists []float32
	if len(resp.Distances) > 0 {
		dists = resp.Distances[0]
	}
	var metas []map[string]any
	if len(resp.Metadatas) > 0 {
		metas = resp.Metadatas[0]
	}
	var embs [][]float32
	if len(resp.Embeddings) > 0 {
		embs = resp.Embeddings[0]
	}
	out := make([]vectorstore.Match, 0, len(ids))
	for i := range ids {
		if i < query.Offset {
			continue
		}
		v := vectorstore.Vector{ID: ids[i]}
		if i < len(embs) {
			v.Values = embs[i]
		}
		if i < len(metas) {
			v.Metadata = stripNamespace(metas[i])
		}
		score := float32(0)
		if i < len(dists) {
			// Chroma reports distance; invert so higher is more similar.
			score = -dists[i]
		}
		out = append(out, vectorstore.Match{Vector: v, Score: score})
	}
	return out, nil
}

// Scroll is not available on the Chroma wire protocol.
func (s *Store) Scroll(ctx context.Context, coll string, query vectorstore.Query) (durable.Source[vectorstore.ScrollEvent], error) {
	return nil, errmodel.Unsupported("chromadb: scroll is not supported")
}

func (s *Store) collectionID(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if id, ok := s.nameToID[name]; ok {
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()
	var list []collection
	if err := s.getJSON(ctx, "/api/v1/collections?name="+url.QueryEscape(name), &list); err != nil {
		return "", err
	}
	for _, c := range list {
		if c.Name == name {
			s.mu.Lock()
			s.nameToID[name] = c.ID
			s.mu.Unlock()
			return c.ID, nil
		}
	}
	return "", errmodel.NotFound(name, "chromadb: collection "+name+" not found")
}

func (s *Store) endpoint(p string) string {
	u := *s.baseURL
	parsed, err := url.Parse(p)
	if err != nil {
		u.Path = path.Join(u.Path, p)
		return u.String()
	}
	u.Path = path.Join(u.Path, parsed.Path)
	u.RawQuery = parsed.RawQuery
	return u.String()
}

func (s *Store) getJSON(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(p), nil)
	if err != nil {
		return errmodel.Internal("chromadb: build request", err)
	}
	return s.do(req, out)
}

func (s *Store) postJSON(ctx context.Context, p string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return errmodel.Internal("chromadb: encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(p), &buf)
	if err != nil {
		return errmodel.Internal("chromadb: build request", err)
	}
	req.Header.Set("content-type", "application/json")
	return s.do(req, out)
}

func (s *Store) deleteReq(ctx context.Context, p string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint(p), nil)
	if err != nil {
		return errmodel.Internal("chromadb: build request", err)
	}
	return s.do(req, nil)
}

func (s *Store) do(req *http.Request, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errmodel.FromResponse(resp, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errmodel.Internal("chromadb: decode response", err)
	}
	return nil
}

func withNamespace(md map[string]any, ns string) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	if ns != "" {
		out[namespaceKey] = ns
	}
	return out
}

func stripNamespace(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	delete(md, namespaceKey)
	if len(md) == 0 {
		return nil
	}
	return md
}

func namespaceWhere(ns string, equals map[string]any) map[string]any {
	if ns == "" && len(equals) == 0 {
		return nil
	}
	where := make(map[string]any, len(equals)+1)
	for k, v := range equals {
		where[k] = v
	}
	if ns != "" {
		where[namespaceKey] = ns
	}
	return where
}

// Wire types (minimal shapes).
type collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

type upsertRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

type getRequest struct {
	IDs     []string       `json:"ids,omitempty"`
	Where   map[string]any `json:"where,omitempty"`
	Include []string       `json:"include,omitempty"`
}

type getResponse struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

type deleteRequest struct {
	IDs   []string       `json:"ids,omitempty"`
	Where map[string]any `json:"where,omitempty"`
}

type queryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include,omitempty"`
}

type queryResponse struct {
	IDs        [][]string         `json:"ids"`
	Distances  [][]float32        `json:"distances"`
	Metadatas  [][]map[string]any `json:"metadatas"`
	Embeddings [][][]float32      `json:"embeddings"`
}

func init() { _ = vectorstore.Register("chromadb", Factory) }
