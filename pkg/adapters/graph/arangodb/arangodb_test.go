package arangodb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tetherkit/tether/pkg/errmodel"
)

func newStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := Factory(context.Background(), map[string]any{
		"base_url": srv.URL,
		"database": "graphdb",
		"username": "root",
		"password": "secret",
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return s.(*Store)
}

func TestCreateVertexStoresLabelsInReservedField(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/graphdb/_api/document/vertices", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, _ := r.BasicAuth(); user != "root" || pass != "secret" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"new": map[string]any{
			"_id": "vertices/1", "_key": "1", "_rev": "x",
			labelsField: []any{"User"}, "name": "ada",
		}})
	})

	s := newStore(t, mux)
	v, err := s.CreateVertex(context.Background(), []string{"User"}, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	labels, ok := got[labelsField].([]any)
	if !ok || labels[0] != "User" {
		t.Fatalf("document sent = %v", got)
	}
	if v.ID != "vertices/1" || v.Labels[0] != "User" || v.Properties["name"] != "ada" {
		t.Fatalf("vertex = %+v", v)
	}
	if _, leaked := v.Properties[labelsField]; leaked {
		t.Fatalf("reserved field leaked into properties")
	}
}

func TestGetVertexNotFoundCarriesElementID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_db/graphdb/_api/document/vertices/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":true,"errorNum":1202,"errorMessage":"document not found"}`))
	})

	s := newStore(t, mux)
	_, err := s.GetVertex(context.Background(), "vertices/404")
	e := errmodel.From(err)
	if e.Kind != errmodel.KindNotFound || e.ElementID != "vertices/404" {
		t.Fatalf("err = %+v", e)
	}
}

func TestDeleteVertexChecksIncidentEdges(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/graphdb/_api/cursor", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(cursorResponse{Result: []any{"edges/9"}})
	})

	s := newStore(t, mux)
	err := s.DeleteVertex(context.Background(), "vertices/1", false)
	if !errmodel.IsKind(err, errmodel.KindConstraintViolation) {
		t.Fatalf("connected delete = %v", err)
	}
}

func TestDeleteVertexDetachRemovesEdgesFirst(t *testing.T) {
	var removedEdges, removedVertex bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/graphdb/_api/cursor", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		q, _ := body["query"].(string)
		if q == "" {
			t.Errorf("empty query")
		}
		removedEdges = true
		_ = json.NewEncoder(w).Encode(cursorResponse{})
	})
	mux.HandleFunc("DELETE /_db/graphdb/_api/document/vertices/1", func(w http.ResponseWriter, r *http.Request) {
		removedVertex = true
		_, _ = w.Write([]byte(`{}`))
	})

	s := newStore(t, mux)
	if err := s.DeleteVertex(context.Background(), "vertices/1", true); err != nil {
		t.Fatalf("detach delete: %v", err)
	}
	if !removedEdges || !removedVertex {
		t.Fatalf("edges removed = %v, vertex removed = %v", removedEdges, removedVertex)
	}
}

func TestQueryFollowsCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/graphdb/_api/cursor", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(cursorResponse{Result: []any{"a", "b"}, HasMore: true, ID: "c-1"})
	})
	mux.HandleFunc("POST /_db/graphdb/_api/cursor/c-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(cursorResponse{Result: []any{"c"}})
	})

	s := newStore(t, mux)
	res, err := s.ExecuteQuery(context.Background(), "FOR d IN vertices RETURN d.name", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Rows) != 3 || res.Rows[2][0] != "c" {
		t.Fatalf("rows = %+v", res.Rows)
	}
}

func TestClassifyErrorNums(t *testing.T) {
	cases := []struct {
		errorNum int
		status   int
		want     errmodel.Kind
	}{
		{1200, 409, errmodel.KindTransactionConflict},
		{1202, 404, errmodel.KindNotFound},
		{1210, 409, errmodel.KindAlreadyExists},
		{1216, 400, errmodel.KindInvalidInput},
		{1229, 500, errmodel.KindDeadlock},
		{1501, 400, errmodel.KindInvalidQuery},
		{32, 500, errmodel.KindResourceExhausted},
		{0, 401, errmodel.KindUnauthorized}, // unknown errorNum falls back to status
	}
	for _, tc := range cases {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": true, "errorNum": tc.errorNum, "errorMessage": "boom",
			})
		})
		s := newStore(t, mux)
		err := s.Ping(context.Background())
		if !errmodel.IsKind(err, tc.want) {
			t.Fatalf("errorNum %d -> %v, want %s", tc.errorNum, err, tc.want)
		}
	}
}

func TestEdgeRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_db/graphdb/_api/document/edges", func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		if doc["_from"] != "vertices/1" || doc["_to"] != "vertices/2" || doc[typeField] != "KNOWS" {
			t.Errorf("edge document = %v", doc)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"new": map[string]any{
			"_id": "edges/7", "_from": "vertices/1", "_to": "vertices/2",
			typeField: "KNOWS", "since": float64(2020),
		}})
	})

	s := newStore(t, mux)
	e, err := s.CreateEdge(context.Background(), "KNOWS", "vertices/1", "vertices/2", map[string]any{"since": 2020})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if e.ID != "edges/7" || e.Type != "KNOWS" || e.From != "vertices/1" || e.Properties["since"] != float64(2020) {
		t.Fatalf("edge = %+v", e)
	}
}
