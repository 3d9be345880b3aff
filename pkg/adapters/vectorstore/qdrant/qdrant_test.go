package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/errmodel"
)

func newStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := Factory(context.Background(), map[string]any{"base_url": srv.URL, "api_key": "k-123"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return s.(*Store)
}

func drain(t *testing.T, src interface {
	PollNext() ([]vectorstore.ScrollEvent, bool)
}) []vectorstore.ScrollEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var all []vectorstore.ScrollEvent
	for time.Now().Before(deadline) {
		events, some := src.PollNext()
		if some {
			all = append(all, events...)
			last := events[len(events)-1]
			if last.Done || last.Err != nil {
				return all
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("scroll did not terminate; got %d events", len(all))
	return nil
}

func TestCreateCollectionRequest(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/docs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "k-123" {
			t.Errorf("api-key header missing")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	s := newStore(t, mux)
	if err := s.CreateCollection(context.Background(), "docs", 128); err != nil {
		t.Fatalf("create: %v", err)
	}
	vectors := got["vectors"].(map[string]any)
	if vectors["size"] != float64(128) || vectors["distance"] != "Cosine" {
		t.Fatalf("vectors config = %v", vectors)
	}
}

func TestDeleteByFilterSyntheticCount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/docs/points/count", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["exact"] != true {
			t.Errorf("count not exact: %v", body)
		}
		_, _ = w.Write([]byte(`{"result":{"count":5}}`))
	})
	deleted := false
	mux.HandleFunc("POST /collections/docs/points/delete", func(w http.ResponseWriter, r *http.Request) {
		deleted = true
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	})

	s := newStore(t, mux)
	count, synthetic, err := s.DeleteByFilter(context.Background(), "docs", "tenant-a", vectorstore.Filter{})
	if err != nil {
		t.Fatalf("delete by filter: %v", err)
	}
	if count != 5 || !synthetic || !deleted {
		t.Fatalf("count = %d, synthetic = %v, deleted = %v", count, synthetic, deleted)
	}
}

func TestGetFiltersNamespaceClientSide(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/docs/points", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []point{
			{ID: "a", Vector: []float32{1}, Payload: map[string]any{namespaceKey: "tenant-a"}},
			{ID: "b", Vector: []float32{1}, Payload: map[string]any{namespaceKey: "tenant-b"}},
		}})
	})

	s := newStore(t, mux)
	out, err := s.Get(context.Background(), "docs", "tenant-a", []string{"a", "b"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("out = %+v", out)
	}
	if _, leaked := out[0].Metadata[namespaceKey]; leaked {
		t.Fatalf("namespace key leaked")
	}
}

func TestScrollFollowsCursorAndSkipsOffset(t *testing.T) {
	pages := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/docs/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		pages++
		switch pages {
		case 1:
			if body["offset"] != nil {
				t.Errorf("first page has cursor: %v", body["offset"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"points":           []point{{ID: "a"}, {ID: "b"}},
				"next_page_offset": "cursor-2",
			}})
		default:
			if body["offset"] != "cursor-2" {
				t.Errorf("cursor not forwarded: %v", body["offset"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"points":           []point{{ID: "c"}},
				"next_page_offset": nil,
			}})
		}
	})

	s := newStore(t, mux)
	src, err := s.Scroll(context.Background(), "docs", vectorstore.Query{Offset: 1})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	defer src.Close()

	events := drain(t, src)
	var ids []string
	for _, ev := range events {
		if ev.Hit != nil {
			ids = append(ids, ev.Hit.Vector.ID)
		}
	}
	// Offset 1 discards "a"; the rest stream through in cursor order.
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("ids = %v", ids)
	}
	if !events[len(events)-1].Done {
		t.Fatalf("missing done event")
	}
}

func TestScrollSurfacesErrorsInBand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/docs/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	s := newStore(t, mux)
	src, err := s.Scroll(context.Background(), "docs", vectorstore.Query{})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	defer src.Close()

	events := drain(t, src)
	last := events[len(events)-1]
	if last.Err == nil || last.Err.Kind != errmodel.KindServiceUnavailable {
		t.Fatalf("events = %+v", events)
	}
}

func TestRateLimitMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	})

	s := newStore(t, mux)
	_, err := s.ListCollections(context.Background())
	e := errmodel.From(err)
	if e.Kind != errmodel.KindRateLimited || e.RetryAfterSeconds != 3 {
		t.Fatalf("err = %+v", e)
	}
}
