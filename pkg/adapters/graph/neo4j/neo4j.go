// Package neo4j implements the Graph interface on the Neo4j HTTP
// transactional Cypher endpoint. Server-side failures arrive as Neo.* status
// codes in an otherwise 200 response and are classified by code family.
package neo4j

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tetherkit/tether/pkg/adapters/graph"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a Neo4j-backed Graph.
type Store struct {
	baseURL  *url.URL
	database string
	username string
	password string
	http     *http.Client
}

// Factory constructs a Neo4j-backed Graph. cfg keys: base_url, database,
// username, password.
func Factory(ctx context.Context, cfg map[string]any) (graph.Graph, error) {
	opts := map[string]string{}
	for _, k := range []string{"base_url", "database", "username", "password"} {
		if v, ok := cfg[k].(string); ok && v != "" {
			opts[k] = v
		}
	}
	base := provconf.ResolveDefault("base_url", opts, "NEO4J_URL", "http://localhost:7474")
	u, err := url.Parse(base)
	if err != nil {
		return nil, errmodel.InvalidInput("neo4j: invalid base_url: " + err.Error())
	}
	username, err := provconf.Resolve("username", opts, "NEO4J_USER")
	if err != nil {
		return nil, err
	}
	password, err := provconf.Resolve("password", opts, "NEO4J_PASSWORD")
	if err != nil {
		return nil, err
	}
	return &Store{
		baseURL:  u,
		database: provconf.ResolveDefault("database", opts, "NEO4J_DATABASE", "neo4j"),
		username: username,
		password: password,
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

func (s *Store) Name() string { return "neo4j" }

func (s *Store) CreateVertex(ctx context.Context, labels []string, properties map[string]any) (graph.Vertex, error) {
	spec, err := labelSpec(labels)
	if err != nil {
		return graph.Vertex{}, err
	}
	rows, err := s.run(ctx,
		fmt.Sprintf(`CREATE (n%s) SET n += $props RETURN elementId(n), labels(n), properties(n)`, spec),
		map[string]any{"props": orEmpty(properties)})
	if err != nil {
		return graph.Vertex{}, err
	}
	return vertexFromRow(rows, "")
}

func (s *Store) GetVertex(ctx context.Context, id string) (graph.Vertex, error) {
	rows, err := s.run(ctx,
		`MATCH (n) WHERE elementId(n) = $id RETURN elementId(n), labels(n), properties(n)`,
		map[string]any{"id": id})
	if err != nil {
		return graph.Vertex{}, err
	}
	return vertexFromRow(rows, id)
}

func (s *Store) UpdateVertex(ctx context.Context, id string, properties map[string]any) (graph.Vertex, error) {
	rows, err := s.run(ctx,
		`MATCH (n) WHERE elementId(n) = $id SET n += $props RETURN elementId(n), labels(n), properties(n)`,
		map[string]any{"id": id, "props": orEmpty(properties)})
	if err != nil {
		return graph.Vertex{}, err
	}
	return vertexFromRow(rows, id)
}

func (s *Store) DeleteVertex(ctx context.Context, id string, detach bool) error {
	stmt := `MATCH (n) WHERE elementId(n) = $id DELETE n`
	if detach {
		stmt = `MATCH (n) WHERE elementId(n) = $id DETACH DELETE n`
	}
	_, err := s.run(ctx, stmt, map[string]any{"id": id})
	return err
}

func (s *Store) FindVertices(ctx context.Context, label string, properties map[string]any, limit int) ([]graph.Vertex, error) {
	spec := ""
	if label != "" {
		var err error
		if spec, err = labelSpec([]string{label}); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = 100
	}
	where, params := propsWhere(properties)
	rows, err := s.run(ctx,
		fmt.Sprintf(`MATCH (n%s) %s RETURN elementId(n), labels(n), properties(n) LIMIT %d`, spec, where, limit),
		params)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Vertex, 0, len(rows))
	for _, row := range rows {
		v, err := decodeVertex(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) CreateEdge(ctx context.Context, edgeType, from, to string, properties map[string]any) (graph.Edge, error) {
	if !labelPattern.MatchString(edgeType) {
		return graph.Edge{}, errmodel.InvalidInput("neo4j: invalid edge type " + edgeType)
	}
	rows, err := s.run(ctx, fmt.Sprintf(
		`MATCH (a) WHERE elementId(a) = $from
		 MATCH (b) WHERE elementId(b) = $to
		 CREATE (a)-[r:%s]->(b) SET r += $props
		 RETURN elementId(r), type(r), elementId(a), elementId(b), properties(r)`, edgeType),
		map[string]any{"from": from, "to": to, "props": orEmpty(properties)})
	if err != nil {
		return graph.Edge{}, err
	}
	return edgeFromRow(rows, "")
}

func (s *Store) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	rows, err := s.run(ctx,
		`MATCH (a)-[r]->(b) WHERE elementId(r) = $id
		 RETURN elementId(r), type(r), elementId(a), elementId(b), properties(r)`,
		map[string]any{"id": id})
	if err != nil {
		return graph.Edge{}, err
	}
	return edgeFromRow(rows, id)
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	_, err := s.run(ctx, `MATCH ()-[r]->() WHERE elementId(r) = $id DELETE r`, map[string]any{"id": id})
	return err
}

func (s *Store) ExecuteQuery(ctx context.Context, query string, params map[string]any) (graph.QueryResult, error) {
	res, err := s.commit(ctx, query, params)
	if err != nil {
		return graph.QueryResult{}, err
	}
	out := graph.QueryResult{Columns: res.Columns, Rows: make([][]any, 0, len(res.Data))}
	for _, d := range res.Data {
		out.Rows = append(out.Rows, d.Row)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.run(ctx, `RETURN 1`, nil)
	return err
}

// run executes a single statement and returns its rows.
func (s *Store) run(ctx context.Context, stmt string, params map[string]any) ([][]any, error) {
	res, err := s.commit(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(res.Data))
	for _, d := range res.Data {
		rows = append(rows, d.Row)
	}
	return rows, nil
}

func (s *Store) commit(ctx context.Context, stmt string, params map[string]any) (*txResult, error) {
	reqBody := txRequest{Statements: []txStatement{{Statement: stmt, Parameters: orEmpty(params)}}}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, errmodel.Internal("neo4j: encode request", err)
	}
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/db/" + s.database + "/tx/commit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &buf)
	if err != nil {
		return nil, errmodel.Internal("neo4j: build request", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errmodel.FromNetwork(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errmodel.FromResponse(resp, string(raw))
	}
	var decoded txResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errmodel.Internal("neo4j: decode response", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, classify(decoded.Errors[0])
	}
	if len(decoded.Results) == 0 {
		return &txResult{}, nil
	}
	return &decoded.Results[0], nil
}

// classify maps a Neo.* status code to the error taxonomy by code family.
func classify(e txError) *errmodel.Error {
	code := e.Code
	msg := "neo4j: " + e.Message
	switch {
	case strings.Contains(code, "Security.Unauthorized"),
		strings.Contains(code, "Security.AuthenticationRateLimit"):
		return errmodel.Unauthorized(msg)
	case strings.Contains(code, "Security.Forbidden"):
		return errmodel.New(errmodel.KindForbidden, msg, nil)
	case strings.Contains(code, "Schema.ConstraintValidationFailed"):
		return errmodel.New(errmodel.KindConstraintViolation, msg, nil)
	case strings.Contains(code, "Schema."):
		return errmodel.New(errmodel.KindSchemaViolation, msg, nil)
	case strings.Contains(code, "Statement.SyntaxError"),
		strings.Contains(code, "Statement.SemanticError"):
		return errmodel.New(errmodel.KindInvalidQuery, msg, nil)
	case strings.Contains(code, "Statement.EntityNotFound"),
		strings.Contains(code, "Database.DatabaseNotFound"):
		return errmodel.NotFound("", msg)
	case strings.Contains(code, "Transaction.DeadlockDetected"):
		return errmodel.New(errmodel.KindDeadlock, msg, nil)
	case strings.Contains(code, "Transaction.Terminated"),
		strings.Contains(code, "Transaction.LockClientStopped"):
		return errmodel.New(errmodel.KindTransactionConflict, msg, nil)
	case strings.HasPrefix(code, "Neo.TransientError"):
		return errmodel.New(errmodel.KindServiceUnavailable, msg, nil)
	case strings.HasPrefix(code, "Neo.ClientError"):
		return errmodel.InvalidInput(msg)
	default:
		return errmodel.Internal(msg)
	}
}

func labelSpec(labels []string) (string, error) {
	var b strings.Builder
	for _, l := range labels {
		if !labelPattern.MatchString(l) {
			return "", errmodel.InvalidInput("neo4j: invalid label " + l)
		}
		b.WriteByte(':')
		b.WriteString(l)
	}
	return b.String(), nil
}

func propsWhere(properties map[string]any) (string, map[string]any) {
	if len(properties) == 0 {
		return "", nil
	}
	return `WHERE all(k IN keys($props) WHERE n[k] = $props[k])`, map[string]any{"props": properties}
}

func vertexFromRow(rows [][]any, id string) (graph.Vertex, error) {
	if len(rows) == 0 {
		return graph.Vertex{}, errmodel.NotFound(id, "neo4j: vertex not found")
	}
	return decodeVertex(rows[0])
}

func decodeVertex(row []any) (graph.Vertex, error) {
	if len(row) < 3 {
		return graph.Vertex{}, errmodel.Internal("neo4j: short vertex row")
	}
	v := graph.Vertex{}
	v.ID, _ = row[0].(string)
	if raw, ok := row[1].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				v.Labels = append(v.Labels, s)
			}
		}
	}
	if props, ok := row[2].(map[string]any); ok && len(props) > 0 {
		v.Properties = props
	}
	return v, nil
}

func edgeFromRow(rows [][]any, id string) (graph.Edge, error) {
	if len(rows) == 0 {
		return graph.Edge{}, errmodel.NotFound(id, "neo4j: edge not found")
	}
	row := rows[0]
	if len(row) < 5 {
		return graph.Edge{}, errmodel.Internal("neo4j: short edge row")
	}
	e := graph.Edge{}
	e.ID, _ = row[0].(string)
	e.Type, _ = row[1].(string)
	e.From, _ = row[2].(string)
	e.To, _ = row[3].(string)
	if props, ok := row[4].(map[string]any); ok && len(props) > 0 {
		e.Properties = props
	}
	return e, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type txRequest struct {
	Statements []txStatement `json:"statements"`
}

type txStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters"`
}

type txResponse struct {
	Results []txResult `json:"results"`
	Errors  []txError  `json:"errors"`
}

type txResult struct {
	Columns []string `json:"columns"`
	Data    []struct {
		Row []any `json:"row"`
	} `json:"data"`
}

type txError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func init() {
	_ = graph.Register("neo4j", Factory)
}
