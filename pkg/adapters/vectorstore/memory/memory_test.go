package memory

import (
	"context"
	"testing"

	"github.com/tetherkit/tether/pkg/adapters/vectorstore"
	"github.com/tetherkit/tether/pkg/errmodel"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	if err := s.CreateCollection(ctx, "docs", 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	vecs := []vectorstore.Vector{
		{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"lang": "go"}},
		{ID: "b", Values: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"lang": "go"}},
		{ID: "c", Values: []float32{0, 1, 0}, Metadata: map[string]any{"lang": "rust"}},
	}
	if err := s.Upsert(ctx, "docs", "", vecs); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return s
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateCollection(ctx, "docs", 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateCollection(ctx, "docs", 3); !errmodel.IsKind(err, errmodel.KindAlreadyExists) {
		t.Fatalf("duplicate create = %v", err)
	}
	names, err := s.ListCollections(ctx)
	if err != nil || len(names) != 1 || names[0] != "docs" {
		t.Fatalf("list = %v, %v", names, err)
	}
	if err := s.DeleteCollection(ctx, "docs"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteCollection(ctx, "docs"); !errmodel.IsKind(err, errmodel.KindNotFound) {
		t.Fatalf("delete missing = %v", err)
	}
}

func TestUpsertDimensionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateCollection(ctx, "docs", 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Upsert(ctx, "docs", "", []vectorstore.Vector{{ID: "x", Values: []float32{1, 2}}})
	if !errmodel.IsKind(err, errmodel.KindSchemaViolation) {
		t.Fatalf("dimension mismatch = %v", err)
	}
}

func TestSearchOrderingAndWindow(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	matches, err := s.Search(ctx, "docs", vectorstore.Query{Vector: []float32{1, 0, 0}, TopK: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 || matches[0].Vector.ID != "a" || matches[1].Vector.ID != "b" {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("scores not descending: %v %v", matches[0].Score, matches[1].Score)
	}

	// Offset skips already-seen results.
	offsetMatches, err := s.Search(ctx, "docs", vectorstore.Query{Vector: []float32{1, 0, 0}, TopK: 2, Offset: 1})
	if err != nil {
		t.Fatalf("search offset: %v", err)
	}
	if len(offsetMatches) != 2 || offsetMatches[0].Vector.ID != "b" {
		t.Fatalf("offset matches = %+v", offsetMatches)
	}
}

func TestSearchMetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	matches, err := s.Search(ctx, "docs", vectorstore.Query{
		Vector: []float32{1, 0, 0},
		Filter: vectorstore.Filter{Equals: map[string]any{"lang": "rust"}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Vector.ID != "c" {
		t.Fatalf("filtered matches = %+v", matches)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateCollection(ctx, "docs", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Upsert(ctx, "docs", "tenant-a", []vectorstore.Vector{{ID: "x", Values: []float32{1, 0}}})
	_ = s.Upsert(ctx, "docs", "tenant-b", []vectorstore.Vector{{ID: "y", Values: []float32{1, 0}}})

	got, err := s.Get(ctx, "docs", "tenant-a", []string{"x", "y"})
	if err != nil || len(got) != 1 || got[0].ID != "x" {
		t.Fatalf("namespace leak: %+v, %v", got, err)
	}
}

func TestDeleteByFilterCount(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	count, synthetic, err := s.DeleteByFilter(ctx, "docs", "", vectorstore.Filter{Equals: map[string]any{"lang": "go"}})
	if err != nil {
		t.Fatalf("delete by filter: %v", err)
	}
	if count != 2 || synthetic {
		t.Fatalf("count = %d, synthetic = %v", count, synthetic)
	}
	rest, _ := s.Get(ctx, "docs", "", []string{"a", "b", "c"})
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("remaining = %+v", rest)
	}
}

func TestScrollDrainsAllMatches(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	src, err := s.Scroll(ctx, "docs", vectorstore.Query{Vector: []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	defer src.Close()

	events, some := src.PollNext()
	if !some {
		t.Fatalf("no events buffered")
	}
	var ids []string
	var done bool
	for _, ev := range events {
		if ev.Hit != nil {
			ids = append(ids, ev.Hit.Vector.ID)
		}
		if ev.Done {
			done = true
		}
	}
	if !done || len(ids) != 3 || ids[0] != "a" {
		t.Fatalf("scroll events = %v, done = %v", ids, done)
	}
}

func TestZeroNormQueryRejected(t *testing.T) {
	s := seeded(t)
	_, err := s.Search(context.Background(), "docs", vectorstore.Query{Vector: []float32{0, 0, 0}})
	if !errmodel.IsKind(err, errmodel.KindInvalidInput) {
		t.Fatalf("zero-norm query = %v", err)
	}
}
