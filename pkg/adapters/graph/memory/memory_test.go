package memory

import (
	"context"
	"testing"

	"github.com/tetherkit/tether/pkg/errmodel"
)

func TestVertexCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	v, err := s.CreateVertex(ctx, []string{"User"}, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.ID == "" {
		t.Fatalf("no id assigned")
	}

	got, err := s.GetVertex(ctx, v.ID)
	if err != nil || got.Properties["name"] != "ada" {
		t.Fatalf("get = %+v, %v", got, err)
	}

	updated, err := s.UpdateVertex(ctx, v.ID, map[string]any{"role": "admin"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Properties["name"] != "ada" || updated.Properties["role"] != "admin" {
		t.Fatalf("update did not merge: %+v", updated.Properties)
	}

	if err := s.DeleteVertex(ctx, v.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetVertex(ctx, v.ID); !errmodel.IsKind(err, errmodel.KindNotFound) {
		t.Fatalf("get deleted = %v", err)
	}
}

func TestGetMissingCarriesElementID(t *testing.T) {
	_, err := New().GetVertex(context.Background(), "v-404")
	e := errmodel.From(err)
	if e.Kind != errmodel.KindNotFound || e.ElementID != "v-404" {
		t.Fatalf("err = %+v", e)
	}
}

func TestDeleteConnectedVertexNeedsDetach(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.CreateVertex(ctx, []string{"User"}, nil)
	b, _ := s.CreateVertex(ctx, []string{"User"}, nil)
	e, err := s.CreateEdge(ctx, "KNOWS", a.ID, b.ID, nil)
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := s.DeleteVertex(ctx, a.ID, false); !errmodel.IsKind(err, errmodel.KindConstraintViolation) {
		t.Fatalf("connected delete = %v", err)
	}

	if err := s.DeleteVertex(ctx, a.ID, true); err != nil {
		t.Fatalf("detach delete: %v", err)
	}
	if _, err := s.GetEdge(ctx, e.ID); !errmodel.IsKind(err, errmodel.KindNotFound) {
		t.Fatalf("edge survived detach: %v", err)
	}
	if _, err := s.GetVertex(ctx, b.ID); err != nil {
		t.Fatalf("unrelated vertex removed: %v", err)
	}
}

func TestFindVertices(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.CreateVertex(ctx, []string{"User"}, map[string]any{"team": "core"})
	_, _ = s.CreateVertex(ctx, []string{"User"}, map[string]any{"team": "infra"})
	_, _ = s.CreateVertex(ctx, []string{"Repo"}, map[string]any{"team": "core"})

	out, err := s.FindVertices(ctx, "User", map[string]any{"team": "core"}, 0)
	if err != nil || len(out) != 1 {
		t.Fatalf("find = %+v, %v", out, err)
	}

	all, err := s.FindVertices(ctx, "User", nil, 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("find by label = %d, %v", len(all), err)
	}
	if all[0].ID > all[1].ID {
		t.Fatalf("results not sorted by id")
	}

	limited, _ := s.FindVertices(ctx, "", nil, 2)
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestEdgeEndpointsMustExist(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.CreateVertex(ctx, nil, nil)

	if _, err := s.CreateEdge(ctx, "KNOWS", a.ID, "ghost", nil); !errmodel.IsKind(err, errmodel.KindNotFound) {
		t.Fatalf("edge to missing vertex = %v", err)
	}
	if _, err := s.CreateEdge(ctx, "", a.ID, a.ID, nil); !errmodel.IsKind(err, errmodel.KindInvalidInput) {
		t.Fatalf("empty edge type = %v", err)
	}
}

func TestExecuteQueryUnsupported(t *testing.T) {
	_, err := New().ExecuteQuery(context.Background(), "MATCH (n) RETURN n", nil)
	if !errmodel.IsKind(err, errmodel.KindUnsupported) {
		t.Fatalf("execute query = %v", err)
	}
}
