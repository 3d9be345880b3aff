package vectorstore

import (
	"context"
	"encoding/json"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Namespace is the stable op-id namespace for journaled vectorstore
// operations.
const Namespace = "vectorstore"

// ScrollInput is the journaled input of a scroll creation. A replaying scroll
// keeps it so a continuation query can be derived once the journal runs out.
type ScrollInput struct {
	Collection string `json:"collection"`
	Query      Query  `json:"query"`
}

// ScrollStream is the durable scroll stream handed to callers.
type ScrollStream = durable.Stream[ScrollInput, ScrollEvent]

type createCollectionInput struct {
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

type collectionInput struct {
	Collection string `json:"collection"`
}

type vectorsInput struct {
	Collection string   `json:"collection"`
	Namespace  string   `json:"namespace,omitempty"`
	Vectors    []Vector `json:"vectors"`
}

type idsInput struct {
	Collection string   `json:"collection"`
	Namespace  string   `json:"namespace,omitempty"`
	IDs        []string `json:"ids"`
}

type filterInput struct {
	Collection string `json:"collection"`
	Namespace  string `json:"namespace,omitempty"`
	Filter     Filter `json:"filter"`
}

type searchInput struct {
	Collection string `json:"collection"`
	Query      Query  `json:"query"`
}

// DeleteByFilterResult reports how many vectors a filtered delete removed.
// Synthetic is true when the provider protocol does not return a count and
// the number was derived by the adapter (e.g. counted before deleting).
type DeleteByFilterResult struct {
	Count     int64 `json:"count"`
	Synthetic bool  `json:"synthetic,omitempty"`
}

// Durable wraps a VectorStore with the journaling layer: every remote call is
// recorded in live mode and served from the journal on replay, and Scroll
// resumes mid-pagination by advancing the query offset past the hits the
// caller already observed.
type Durable struct {
	host durable.Host
	impl VectorStore
}

// NewDurable wraps impl with durability on host.
func NewDurable(host durable.Host, impl VectorStore) *Durable {
	return &Durable{host: host, impl: impl}
}

// Name returns the underlying provider name.
func (d *Durable) Name() string { return d.impl.Name() }

func (d *Durable) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := durable.Call(ctx, d.host, Namespace, "create-collection", durable.WriteRemote,
		createCollectionInput{Collection: collection, Dimension: dimension},
		func(ctx context.Context, in createCollectionInput) (struct{}, error) {
			return struct{}{}, d.impl.CreateCollection(ctx, in.Collection, in.Dimension)
		})
	return err
}

func (d *Durable) DeleteCollection(ctx context.Context, collection string) error {
	_, err := durable.Call(ctx, d.host, Namespace, "delete-collection", durable.WriteRemote,
		collectionInput{Collection: collection},
		func(ctx context.Context, in collectionInput) (struct{}, error) {
			return struct{}{}, d.impl.DeleteCollection(ctx, in.Collection)
		})
	return err
}

func (d *Durable) ListCollections(ctx context.Context) ([]string, error) {
	return durable.Call(ctx, d.host, Namespace, "list-collections", durable.ReadRemote,
		struct{}{},
		func(ctx context.Context, _ struct{}) ([]string, error) {
			return d.impl.ListCollections(ctx)
		})
}

func (d *Durable) Upsert(ctx context.Context, collection, namespace string, vectors []Vector) error {
	_, err := durable.Call(ctx, d.host, Namespace, "upsert", durable.WriteRemote,
		vectorsInput{Collection: collection, Namespace: namespace, Vectors: vectors},
		func(ctx context.Context, in vectorsInput) (struct{}, error) {
			return struct{}{}, d.impl.Upsert(ctx, in.Collection, in.Namespace, in.Vectors)
		})
	return err
}

func (d *Durable) Get(ctx context.Context, collection, namespace string, ids []string) ([]Vector, error) {
	return durable.Call(ctx, d.host, Namespace, "get", durable.ReadRemote,
		idsInput{Collection: collection, Namespace: namespace, IDs: ids},
		func(ctx context.Context, in idsInput) ([]Vector, error) {
			return d.impl.Get(ctx, in.Collection, in.Namespace, in.IDs)
		})
}

func (d *Durable) Delete(ctx context.Context, collection, namespace string, ids []string) error {
	_, err := durable.Call(ctx, d.host, Namespace, "delete", durable.WriteRemote,
		idsInput{Collection: collection, Namespace: namespace, IDs: ids},
		func(ctx context.Context, in idsInput) (struct{}, error) {
			return struct{}{}, d.impl.Delete(ctx, in.Collection, in.Namespace, in.IDs)
		})
	return err
}

// DeleteByFilter removes all vectors matching the filter. The journaled
// result carries the synthetic flag so replays reproduce it faithfully.
func (d *Durable) DeleteByFilter(ctx context.Context, collection, namespace string, filter Filter) (DeleteByFilterResult, error) {
	return durable.Call(ctx, d.host, Namespace, "delete-by-filter", durable.WriteRemote,
		filterInput{Collection: collection, Namespace: namespace, Filter: filter},
		func(ctx context.Context, in filterInput) (DeleteByFilterResult, error) {
			count, synthetic, err := d.impl.DeleteByFilter(ctx, in.Collection, in.Namespace, in.Filter)
			return DeleteByFilterResult{Count: count, Synthetic: synthetic}, err
		})
}

func (d *Durable) Search(ctx context.Context, collection string, query Query) ([]Match, error) {
	return durable.Call(ctx, d.host, Namespace, "search", durable.ReadRemote,
		searchInput{Collection: collection, Query: query},
		func(ctx context.Context, in searchInput) ([]Match, error) {
			return d.impl.Search(ctx, in.Collection, in.Query)
		})
}

// Scroll opens a durable scroll stream over the collection. During replay the
// stream serves journaled pages; once exhausted it reopens the provider
// scroll with the offset advanced past every hit already delivered.
func (d *Durable) Scroll(ctx context.Context, collection string, query Query) (*ScrollStream, error) {
	input := ScrollInput{Collection: collection, Query: query}
	adapter := scrollAdapter{impl: d.impl}
	handle := d.host.Begin(Namespace, "scroll", durable.ReadRemote)

	if handle.IsLive() {
		release := d.host.Suppress()
		upstream, err := d.impl.Scroll(ctx, collection, query)
		release()

		raw, merr := json.Marshal(input)
		if merr != nil {
			return nil, errmodel.Internal("journal: encode scroll input", merr)
		}
		outcome := durable.Outcome{}
		if err != nil {
			outcome.Err = errmodel.From(err)
		}
		if perr := handle.Persist(ctx, raw, outcome); perr != nil {
			return nil, errmodel.Internal("journal: persist vectorstore.scroll", perr)
		}
		if err != nil {
			return nil, errmodel.From(err)
		}
		return durable.NewLiveStream(d.host, Namespace, adapter, upstream), nil
	}

	outcome, err := handle.Replay(ctx)
	if err != nil {
		return nil, errmodel.Internal("journal: replay vectorstore.scroll", err)
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return durable.NewReplayStream(d.host, Namespace, adapter, input), nil
}

type scrollAdapter struct {
	impl VectorStore
}

func (a scrollAdapter) Open(ctx context.Context, input ScrollInput) (durable.Source[ScrollEvent], error) {
	return a.impl.Scroll(ctx, input.Collection, input.Query)
}

// Continuation clones the original query with the offset advanced by the
// number of hits already observed, so the reopened scroll picks up exactly
// where the journal left off.
func (a scrollAdapter) Continuation(original ScrollInput, partial []ScrollEvent) ScrollInput {
	observed := 0
	for _, ev := range partial {
		if ev.Hit != nil {
			observed++
		}
	}
	next := original
	next.Query.Offset = original.Query.Offset + observed
	return next
}

func (a scrollAdapter) Classify(ev ScrollEvent) durable.EventClass {
	switch {
	case ev.Done:
		return durable.ClassFinish
	case ev.Err != nil:
		return durable.ClassFailure
	default:
		return durable.ClassDelta
	}
}
