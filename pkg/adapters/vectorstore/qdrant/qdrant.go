// Package qdrant implements the VectorStore interface on the Qdrant REST
// API. Namespaces are folded into a reserved payload key; Scroll uses the
// native points/scroll cursor while honoring the caller's integer offset.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const (
	namespaceKey = "__namespace"
	scrollPage   = 128
)

// Store is a Qdrant-backed VectorStore.
type Store struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// Factory constructs a Qdrant-backed VectorStore. cfg keys: base_url,
// api_key (optional for unauthenticated local instances).
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	opts := map[string]string{}
	for _, k := range []string{"base_url", "api_key"} {
		if v, ok := cfg[k].(string); ok && v != "" {
			opts[k] = v
		}
	}
	base := provconf.ResolveDefault("base_url", opts, "QDRANT_URL", "http://localhost:6333")
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("qdrant: invalid base_url: " + err.Error())
	}
	apiKey, _ := provconf.ResolveOptional("api_key", opts, "QDRANT_API_KEY")
	return &Store{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) CreateCollection(ctx context.Context, coll string, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
	}
	return s.call(ctx, http.MethodPut, path.Join("/collections", coll), body, nil)
}

func (s *Store) DeleteCollection(ctx context.Context, coll string) error {
	return s.call(ctx, http.MethodDelete, path.Join("/collections", coll), nil, nil)
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Store) Upsert(ctx context.Context, coll, namespace string, vectors []vectorstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]point, 0, len(vectors))
	for _, v := range vectors {
		points = append(points, point{
			ID:      v.ID,
			Vector:  v.Values,
			Payload: withNamespace(v.Metadata, namespace),
		})
	}
	return s.call(ctx, http.MethodPut, path.Join("/collections", coll, "points")+"?wait=true",
		map[string]any{"points": points}, nil)
}

func (s *Store) Get(ctx context.Context, coll, namespace string, ids []string) ([]vectorstore.Vector, error) {
	body := map[string]any{"ids": ids, "with_payload": true, "with_vector": true}
	var resp struct {
		Result []point `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, path.Join("/collections", coll, "points"), body, &resp); err != nil {
		return nil, err
	}
	out := make([]vectorstore.Vector, 0, len(resp.Result))
	for _, p := range resp.Result {
		if namespace != "" && p.Payload[namespaceKey] != namespace {
			continue
		}
		out = append(out, p.toVector())
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, coll, namespace string, ids []string) error {
	return s.call(ctx, http.MethodPost, path.Join("/collections", coll, "points", "delete")+"?wait=true",
		map[string]any{"points": ids}, nil)
}

// DeleteByFilter counts the matching points first, then deletes by filter.
// Qdrant's delete response reports only an operation status, so the count is
// synthetic and may be off if writes race the delete.
func (s *Store) DeleteByFilter(ctx context.Context, coll, namespace string, filter vectorstore.Filter) (int64, bool, error) {
	qf := buildFilter(namespace, filter.Equals)
	var countResp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"exact": true}
	if qf != nil {
		body["filter"] = qf
	}
	if err := s.call(ctx, http.MethodPost, path.Join("/collections", coll, "points", "count"), body, &countResp); err != nil {
		return 0, false, err
	}
	del := map[string]any{"filter": orMatchAll(qf)}
	if err := s.call(ctx, http.MethodPost, path.Join("/collections", coll, "points", "delete")+"?wait=true", del, nil); err != nil {
		return 0, false, err
	}
	return countResp.Result.Count, true, nil
}

func (s *Store) Search(ctx context.Context, coll string, query vectorstore.Query) ([]vectorstore.Match, error) {
	k := query.TopK
	if k <= 0 {
		k = 10
	}
	body := map[string]any{
		"vector":       query.Vector,
		"limit":        k,
		"offset":       query.Offset,
		"with_payload": true,
		"with_vector":  true,
	}
	if qf := buildFilter(query.Namespace, query.Filter.Equals); qf != nil {
		body["filter"] = qf
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, path.Join("/collections", coll, "points", "search"), body, &resp); err != nil {
		return nil, err
	}
	out := make([]vectorstore.Match, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, vectorstore.Match{Vector: p.point.toVector(), Score: p.Score})
	}
	return out, nil
}

// Scroll walks the native cursor, discarding the first query.Offset hits so
// integer-offset continuations resume correctly after a replay.
func (s *Store) Scroll(ctx context.Context, coll string, query vectorstore.Query) (durable.Source[vectorstore.ScrollEvent], error) {
	qf := buildFilter(query.Namespace, query.Filter.Equals)

	scrollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q := durable.NewQueue[vectorstore.ScrollEvent](cancel)
	go func() {
		defer q.Finish()
		skip := query.Offset
		var cursor any
		for {
			body := map[string]any{
				"limit":        scrollPage,
				"with_payload": true,
				"with_vector":  true,
			}
			if qf != nil {
				body["filter"] = qf
			}
			if cursor != nil {
				body["offset"] = cursor
			}
			var resp struct {
				Result struct {
					Points         []point `json:"points"`
					NextPageOffset any     `json:"next_page_offset"`
				} `json:"result"`
			}
			if err := s.call(scrollCtx, http.MethodPost, path.Join("/collections", coll, "points", "scroll"), body, &resp); err != nil {
				q.Push(vectorstore.ScrollEvent{Err: errmodel.From(err)})
				return
			}
			for _, p := range resp.Result.Points {
				if skip > 0 {
					skip--
					continue
				}
				q.Push(vectorstore.ScrollEvent{Hit: &vectorstore.Match{Vector: p.toVector()}})
			}
			if resp.Result.NextPageOffset == nil {
				q.Push(vectorstore.ScrollEvent{Done: true})
				return
			}
			cursor = resp.Result.NextPageOffset
		}
	}()
	return q, nil
}

func (s *Store) call(ctx context.Context, method, p string, body, out any) error {
	var rd io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errmodel.Internal("qdrant: encode request", err)
		}
		rd = &buf
	}
	u := *s.baseURL
	parsed, perr := url.Parse(p)
	if perr == nil {
		u.Path = path.Join(u.Path, parsed.Path)
		u.RawQuery = parsed.RawQuery
	} else {
		u.Path = path.Join(u.Path, p)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return errmodel.Internal("qdrant: build request", err)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errmodel.FromResponse(resp, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errmodel.Internal("qdrant: decode response", err)
	}
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type scoredPoint struct {
	point
	Score float32 `json:"score"`
}

func (p point) toVector() vectorstore.Vector {
	md := p.Payload
	if md != nil {
		delete(md, namespaceKey)
		if len(md) == 0 {
			md = nil
		}
	}
	return vectorstore.Vector{ID: p.ID, Values: p.Vector, Metadata: md}
}

func withNamespace(md map[string]any, ns string) map[string]any {
	if ns == "" {
		return md
	}
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[namespaceKey] = ns
	return out
}

type matchClause struct {
	Key   string `json:"key"`
	Match struct {
		Value any `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []matchClause `json:"must"`
}

func buildFilter(ns string, equals map[string]any) *qdrantFilter {
	if ns == "" && len(equals) == 0 {
		return nil
	}
	f := &qdrantFilter{}
	if ns != "" {
		mc := matchClause{Key: namespaceKey}
		mc.Match.Value = ns
		f.Must = append(f.Must, mc)
	}
	for k, v := range equals {
		mc := matchClause{Key: k}
		mc.Match.Value = v
		f.Must = append(f.Must, mc)
	}
	return f
}

// orMatchAll returns an empty filter when qf is nil, which Qdrant treats as
// match-everything for delete requests.
func orMatchAll(qf *qdrantFilter) any {
	if qf == nil {
		return map[string]any{}
	}
	return qf
}

func init() {
	_ = vectorstore.Register("qdrant", Factory)
}
