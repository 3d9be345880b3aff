// Package arangodb implements the Graph interface on the ArangoDB HTTP API.
// Vertices and edges live in two fixed collections; labels and edge types are
// kept in reserved document fields because Arango documents carry neither
// natively. Failures are classified by the arango errorNum before falling
// back to the HTTP status.
package arangodb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/graph"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

const (
	labelsField = "__labels"
	typeField   = "__type"
)

// Store is an ArangoDB-backed Graph.
type Store struct {
	baseURL    *url.URL
	database   string
	vertexColl string
	edgeColl   string
	username   string
	password   string
	http       *http.Client
}

// Factory constructs an ArangoDB-backed Graph. cfg keys: base_url, database,
// username, password, vertex_collection, edge_collection.
func Factory(ctx context.Context, cfg map[string]any) (graph.Graph, error) {
	opts := map[string]string{}
	for _, k := range []string{"base_url", "database", "username", "password"} {
		if v, ok := cfg[k].(string); ok && v != "" {
			opts[k] = v
		}
	}
	base := provconf.ResolveDefault("base_url", opts, "ARANGODB_URL", "http://localhost:8529")
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("arangodb: invalid base_url: " + err.Error())
	}
	username, err := provconf.Resolve("username", opts, "ARANGODB_USER")
	if err != nil {
		return nil, err
	}
	password, err := provconf.Resolve("password", opts, "ARANGODB_PASSWORD")
	if err != nil {
		return nil, err
	}
	s := &Store{
		baseURL:    u,
		database:   provconf.ResolveDefault("database", opts, "ARANGODB_DATABASE", "_system"),
		vertexColl: "vertices",
		edgeColl:   "edges",
		username:   username,
		password:   password,
		http:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if v, ok := cfg["vertex_collection"].(string); ok && v != "" {
		s.vertexColl = v
	}
	if v, ok := cfg["edge_collection"].(string); ok && v != "" {
		s.edgeColl = v
	}
	return s, nil
}

func (s *Store) Name() string { return "arangodb" }

func (s *Store) CreateVertex(ctx context.Context, labels []string, properties map[string]any) (graph.Vertex, error) {
	doc := cloneProps(properties)
	if len(labels) > 0 {
		doc[labelsField] = labels
	}
	var resp struct {
		New map[string]any `json:"new"`
	}
	if err := s.call(ctx, http.MethodPost, "/_api/document/"+s.vertexColl+"?returnNew=true", doc, &resp); err != nil {
		return graph.Vertex{}, err
	}
	return decodeVertex(resp.New), nil
}

func (s *Store) GetVertex(ctx context.Context, id string) (graph.Vertex, error) {
	var doc map[string]any
	if err := s.call(ctx, http.MethodGet, "/_api/document/"+id, nil, &doc); err != nil {
		return graph.Vertex{}, withElementID(err, id)
	}
	return decodeVertex(doc), nil
}

func (s *Store) UpdateVertex(ctx context.Context, id string, properties map[string]any) (graph.Vertex, error) {
	var resp struct {
		New map[string]any `json:"new"`
	}
	if err := s.call(ctx, http.MethodPatch, "/_api/document/"+id+"?returnNew=true", cloneProps(properties), &resp); err != nil {
		return graph.Vertex{}, withElementID(err, id)
	}
	return decodeVertex(resp.New), nil
}

func (s *Store) DeleteVertex(ctx context.Context, id string, detach bool) error {
	if detach {
		_, err := s.query(ctx,
			`FOR e IN @@edges FILTER e._from == @id || e._to == @id REMOVE e IN @@edges`,
			map[string]any{"@edges": s.edgeColl, "id": id})
		if err != nil {
			return err
		}
	} else {
		res, err := s.query(ctx,
			`FOR e IN @@edges FILTER e._from == @id || e._to == @id LIMIT 1 RETURN e._id`,
			map[string]any{"@edges": s.edgeColl, "id": id})
		if err != nil {
			return err
		}
		if len(res) > 0 {
			return errmodel.New(errmodel.KindConstraintViolation,
				"arangodb: vertex "+id+" still has edges", nil)
		}
	}
	return withElementID(s.call(ctx, http.MethodDelete, "/_api/document/"+id, nil, nil), id)
}

func (s *Store) FindVertices(ctx context.Context, label string, properties map[string]any, limit int) ([]graph.Vertex, error) {
	if limit <= 0 {
		limit = 100
	}
	bind := map[string]any{"@coll": s.vertexColl, "limit": limit}
	var filters []string
	if label != "" {
		filters = append(filters, "@label IN d."+labelsField)
		bind["label"] = label
	}
	if len(properties) > 0 {
		filters = append(filters, "MATCHES(d, @props)")
		bind["props"] = properties
	}
	q := "FOR d IN @@coll"
	if len(filters) > 0 {
		q += " FILTER " + strings.Join(filters, " && ")
	}
	q += " LIMIT @limit RETURN d"
	rows, err := s.query(ctx, q, bind)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Vertex, 0, len(rows))
	for _, r := range rows {
		if doc, ok := r.(map[string]any); ok {
			out = append(out, decodeVertex(doc))
		}
	}
	return out, nil
}

func (s *Store) CreateEdge(ctx context.Context, edgeType, from, to string, properties map[string]any) (graph.Edge, error) {
	if edgeType == "" {
		return graph.Edge{}, errmodel.InvalidInput("arangodb: empty edge type")
	}
	doc := cloneProps(properties)
	doc["_from"] = from
	doc["_to"] = to
	doc[typeField] = edgeType
	var resp struct {
		New map[string]any `json:"new"`
	}
	if err := s.call(ctx, http.MethodPost, "/_api/document/"+s.edgeColl+"?returnNew=true", doc, &resp); err != nil {
		return graph.Edge{}, err
	}
	return decodeEdge(resp.New), nil
}

func (s *Store) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	var doc map[string]any
	if err := s.call(ctx, http.MethodGet, "/_api/document/"+id, nil, &doc); err != nil {
		return graph.Edge{}, withElementID(err, id)
	}
	return decodeEdge(doc), nil
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	return withElementID(s.call(ctx, http.MethodDelete, "/_api/document/"+id, nil, nil), id)
}

func (s *Store) ExecuteQuery(ctx context.Context, query string, params map[string]any) (graph.QueryResult, error) {
	rows, err := s.query(ctx, query, params)
	if err != nil {
		return graph.QueryResult{}, err
	}
	out := graph.QueryResult{Columns: []string{"result"}, Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		out.Rows = append(out.Rows, []any{r})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.call(ctx, http.MethodGet, "/_api/version", nil, nil)
}

// query runs an AQL query through the cursor API, following the cursor until
// exhausted.
func (s *Store) query(ctx context.Context, q string, bindVars map[string]any) ([]any, error) {
	body := map[string]any{"query": q}
	if len(bindVars) > 0 {
		body["bindVars"] = bindVars
	}
	var resp cursorResponse
	if err := s.call(ctx, http.MethodPost, "/_api/cursor", body, &resp); err != nil {
		return nil, err
	}
	rows := resp.Result
	for resp.HasMore {
		next := cursorResponse{}
		if err := s.call(ctx, http.MethodPost, "/_api/cursor/"+resp.ID, nil, &next); err != nil {
			return nil, err
		}
		rows = append(rows, next.Result...)
		resp = next
	}
	return rows, nil
}

func (s *Store) call(ctx context.Context, method, p string, body, out any) error {
	var rd io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errmodel.Internal("arangodb: encode request", err)
		}
		rd = &buf
	}
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/_db/" + s.database
	parsed, perr := url.Parse(p)
	if perr == nil {
		u.Path += parsed.Path
		u.RawQuery = parsed.RawQuery
	} else {
		u.Path += p
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return errmodel.Internal("arangodb: build request", err)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.http.Do(req)
	if err != nil {
		return errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return classify(resp, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errmodel.Internal("arangodb: decode response", err)
	}
	return nil
}

// classify maps an arango error body to the taxonomy by errorNum, falling
// back to the HTTP status when the number is unknown.
func classify(resp *http.Response, raw []byte) *errmodel.Error {
	var ae struct {
		ErrorNum     int    `json:"errorNum"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.Unmarshal(raw, &ae)
	msg := "arangodb: " + ae.ErrorMessage
	switch ae.ErrorNum {
	case 1200: // write-write conflict
		return errmodel.New(errmodel.KindTransactionConflict, msg, nil)
	case 1202, 1203: // document / collection not found
		return errmodel.NotFound("", msg)
	case 1210: // unique constraint violated
		return errmodel.New(errmodel.KindAlreadyExists, msg, nil)
	case 1216, 1221: // invalid document / key
		return errmodel.InvalidInput(msg)
	case 1229: // deadlock
		return errmodel.New(errmodel.KindDeadlock, msg, nil)
	case 1501, 1551, 1552: // query parse / bind parameter errors
		return errmodel.New(errmodel.KindInvalidQuery, msg, nil)
	case 32: // resource limit
		return errmodel.New(errmodel.KindResourceExhausted, msg, nil)
	}
	return errmodel.FromResponse(resp, string(raw))
}

func withElementID(err error, id string) error {
	if err == nil {
		return nil
	}
	e := errmodel.From(err)
	if e.Kind == errmodel.KindNotFound && e.ElementID == "" {
		e.ElementID = id
	}
	return e
}

func decodeVertex(doc map[string]any) graph.Vertex {
	v := graph.Vertex{}
	v.ID, _ = doc["_id"].(string)
	if raw, ok := doc[labelsField].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				v.Labels = append(v.Labels, s)
			}
		}
	}
	v.Properties = userProps(doc)
	return v
}

func decodeEdge(doc map[string]any) graph.Edge {
	e := graph.Edge{}
	e.ID, _ = doc["_id"].(string)
	e.Type, _ = doc[typeField].(string)
	e.From, _ = doc["_from"].(string)
	e.To, _ = doc["_to"].(string)
	e.Properties = userProps(doc)
	return e
}

// userProps strips system and reserved fields from a document.
func userProps(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_") || k == labelsField || k == typeField {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type cursorResponse struct {
	Result  []any  `json:"result"`
	HasMore bool   `json:"hasMore"`
	ID      string `json:"id"`
}

func init() {
	_ = graph.Register("arangodb", Factory)
}
