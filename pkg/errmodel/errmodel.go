// Package errmodel defines the uniform error taxonomy shared by all provider
// adapters. Callers match on Kind and never depend on a provider's own error
// shape; adapters build these errors from HTTP statuses and transport
// failures via FromStatus and FromNetwork.
package errmodel

import (
	"encoding/json"
	"errors"
)

// Kind is the named error class of a failed adapter operation.
type Kind string

const (
	KindInvalidInput        Kind = "invalid-input"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not-found"
	KindAlreadyExists       Kind = "already-exists"
	KindConflict            Kind = "conflict"
	KindRateLimited         Kind = "rate-limited"
	KindTimeout             Kind = "timeout"
	KindConnectionFailed    Kind = "connection-failed"
	KindServiceUnavailable  Kind = "service-unavailable"
	KindResourceExhausted   Kind = "resource-exhausted"
	KindSchemaViolation     Kind = "schema-violation"
	KindConstraintViolation Kind = "constraint-violation"
	KindInvalidQuery        Kind = "invalid-query"
	KindTransactionConflict Kind = "transaction-conflict"
	KindDeadlock            Kind = "deadlock"
	KindUnsupported         Kind = "unsupported-operation"
	KindInternal            Kind = "internal"
)

// Error is the compact error payload produced by every adapter. It is
// JSON-serializable so the durable layer can journal failed outcomes and
// return them verbatim on replay. It implements the error interface.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// RetryAfterSeconds carries the provider's wait hint for rate limits,
	// in whole seconds.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
	// ElementID identifies the missing element for not-found errors when it
	// could be extracted from the provider response. Best effort.
	ElementID string         `json:"element_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Causes    []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// New constructs a new error of the given kind.
func New(kind Kind, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Kind: kind, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into an *Error. If err is already *Error it is
// returned as-is; unknown error types default to internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Kind: KindInternal, Message: truncate(err.Error(), 512)}
}

// Convenience constructors for the kinds adapters raise directly.

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func Unsupported(message string) *Error {
	return New(KindUnsupported, message, nil)
}

func Internal(message string, causes ...error) *Error {
	return New(KindInternal, message, nil, causes...)
}

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message, nil)
}

func NotFound(elementID, message string) *Error {
	e := New(KindNotFound, message, nil)
	e.ElementID = elementID
	return e
}

func RateLimited(retryAfterSeconds int, message string) *Error {
	e := New(KindRateLimited, message, nil)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	ce := From(err)
	return ce != nil && ce.Kind == kind
}

// Retryable reports whether an error of this kind may succeed on retry.
// Retrying is a provider-adapter concern; the durable wrapper never retries.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindConnectionFailed, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}
