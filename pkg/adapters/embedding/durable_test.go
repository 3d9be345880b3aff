package embedding_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/tetherkit/tether/pkg/adapters/embedding"
	"github.com/tetherkit/tether/pkg/adapters/embedding/fake"
	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/journal"
	"github.com/tetherkit/tether/pkg/journal/memjournal"
)

func newWorker(t *testing.T, store journal.Store, id string) *journal.Worker {
	t.Helper()
	w, err := journal.NewWorker(context.Background(), store, id)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func TestDurableEmbedReplay(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()

	e1 := fake.New(8)
	d1 := embedding.NewDurable(newWorker(t, store, "wf"), e1)
	vecs, err := d1.Embed(ctx, []string{"alpha", "beta"}, nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || e1.EmbedCalls != 1 {
		t.Fatalf("vecs = %d, calls = %d", len(vecs), e1.EmbedCalls)
	}

	e2 := fake.New(8)
	d2 := embedding.NewDurable(newWorker(t, store, "wf"), e2)
	replayed, err := d2.Embed(ctx, []string{"alpha", "beta"}, nil)
	if err != nil {
		t.Fatalf("replayed embed: %v", err)
	}
	if !reflect.DeepEqual(vecs, replayed) {
		t.Fatalf("replay diverged: %v vs %v", vecs, replayed)
	}
	if e2.EmbedCalls != 0 {
		t.Fatalf("provider invoked during replay")
	}
}

// A journaled failure replays as the same error without touching the provider.
func TestDurableEmbedReplaysError(t *testing.T) {
	ctx := context.Background()
	store := memjournal.New()

	e1 := fake.New(8)
	e1.EmbedFn = func(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
		return nil, errmodel.RateLimited(4, "embedding quota exhausted")
	}
	d1 := embedding.NewDurable(newWorker(t, store, "wf-err"), e1)
	_, err := d1.Embed(ctx, []string{"alpha"}, nil)
	if !errmodel.IsKind(err, errmodel.KindRateLimited) {
		t.Fatalf("live err = %v", err)
	}

	e2 := fake.New(8)
	d2 := embedding.NewDurable(newWorker(t, store, "wf-err"), e2)
	_, err = d2.Embed(ctx, []string{"alpha"}, nil)
	replayed := errmodel.From(err)
	if replayed.Kind != errmodel.KindRateLimited || replayed.RetryAfterSeconds != 4 {
		t.Fatalf("replayed err = %+v", replayed)
	}
	if e2.EmbedCalls != 0 {
		t.Fatalf("provider invoked during replay")
	}
}
