package durable

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tetherkit/tether/pkg/errmodel"
)

// Call wraps a single non-streaming remote operation with durability.
//
// Live path: the adapter fn runs under the persistence-scope guard with a
// decoded copy of the input, then the (input, outcome) pair is journaled and
// the outcome returned. Replay path: the next journal entry is consumed and
// returned verbatim; fn is never invoked.
//
// The returned error is either the adapter's *errmodel.Error (journaled and
// stable across replays) or an internal error when the journal itself fails,
// which the caller must treat as fatal.
func Call[I, O any](ctx context.Context, h Host, namespace, function string, ft FunctionType, input I, fn func(context.Context, I) (O, error)) (O, error) {
	var zero O
	handle := h.Begin(namespace, function, ft)

	ctx, span := startSpan(ctx, namespace, function, ft, handle.IsLive())
	defer span.End()

	if handle.IsLive() {
		release := h.Suppress()
		out, callErr := fn(ctx, input)
		release()

		raw, err := json.Marshal(input)
		if err != nil {
			return zero, errmodel.Internal("journal: encode input for "+namespace+"."+function, err)
		}
		outcome, err := encodeOutcome(out, callErr)
		if err != nil {
			return zero, err
		}
		if err := handle.Persist(ctx, raw, outcome); err != nil {
			span.RecordError(err)
			return zero, errmodel.Internal("journal: persist "+namespace+"."+function, err)
		}
		if callErr != nil {
			return zero, errmodel.From(callErr)
		}
		return out, nil
	}

	outcome, err := handle.Replay(ctx)
	if err != nil {
		span.RecordError(err)
		return zero, errmodel.Internal("journal: replay "+namespace+"."+function, err)
	}
	return decodeOutcome[O](namespace, function, outcome)
}

// CallInfallible wraps an operation that cannot fail at the wire level once
// begun, such as polling an in-process stream. Only journal failures are
// surfaced, and those are fatal.
func CallInfallible[I, O any](ctx context.Context, h Host, namespace, function string, ft FunctionType, input I, fn func(context.Context, I) O) (O, error) {
	out, err := Call(ctx, h, namespace, function, ft, input, func(ctx context.Context, in I) (O, error) {
		return fn(ctx, in), nil
	})
	return out, err
}

func encodeOutcome[O any](out O, callErr error) (Outcome, error) {
	if callErr != nil {
		return Outcome{Err: errmodel.From(callErr)}, nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return Outcome{}, errmodel.Internal("journal: encode output", err)
	}
	return Outcome{Output: raw}, nil
}

func decodeOutcome[O any](namespace, function string, outcome Outcome) (O, error) {
	var zero O
	if outcome.Err != nil {
		return zero, outcome.Err
	}
	var out O
	if len(outcome.Output) > 0 {
		if err := json.Unmarshal(outcome.Output, &out); err != nil {
			return zero, errmodel.Internal("journal: replayed entry for "+namespace+"."+function+" has unexpected shape", err)
		}
	}
	return out, nil
}

func startSpan(ctx context.Context, namespace, function string, ft FunctionType, live bool) (context.Context, trace.Span) {
	mode := "replay"
	if live {
		mode = "live"
	}
	tr := otel.Tracer("durable")
	return tr.Start(ctx, namespace+"."+function, trace.WithAttributes(
		attribute.String("durable.namespace", namespace),
		attribute.String("durable.function", function),
		attribute.String("durable.function_type", string(ft)),
		attribute.String("durable.mode", mode),
	))
}
