// Package retry is the exponential-backoff executor provider adapters opt
// into. It runs inside a single wrapped call, so the durable layer journals
// only the final outcome.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tetherkit/tether/pkg/errmodel"
	"github.com/tetherkit/tether/pkg/provconf"
)

// Do invokes fn with exponential backoff according to the policy. Only
// retryable error kinds (rate-limited, timeout, connection-failed,
// service-unavailable) are retried; rate limits honor the provider's
// Retry-After hint. With MaxRetries of zero, fn runs exactly once.
func Do[T any](ctx context.Context, policy provconf.RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	if policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.RequestTimeout)
		defer cancel()
	}

	operation := func() (T, error) {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		ce := errmodel.From(err)
		if !errmodel.Retryable(ce.Kind) {
			return out, backoff.Permanent(ce)
		}
		if ce.Kind == errmodel.KindRateLimited && ce.RetryAfterSeconds > 0 {
			return out, backoff.RetryAfter(ce.RetryAfterSeconds)
		}
		return out, ce
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = policy.Multiplier

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxRetries)+1),
	)
	if err != nil {
		return out, errmodel.From(err)
	}
	return out, nil
}

// Sleep pauses for d unless the context ends first. Exposed for adapters
// that implement provider-specific pacing outside Do.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
