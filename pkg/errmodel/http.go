package errmodel

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// elementIDPattern matches the element identifiers most providers embed in
// not-found messages, e.g. `id "orders/123" not found` or `node 42 not found`.
var elementIDPattern = regexp.MustCompile(`(?i)(?:id|element|node|vertex|edge|document)[\s:"']+([A-Za-z0-9_/\-]+)`)

// FromStatus maps an HTTP status and response body to the canonical error
// kind. The mapping is total over the statuses adapters encounter; anything
// unrecognized falls back to internal.
func FromStatus(status int, body string) *Error {
	msg := truncate(strings.TrimSpace(body), 512)
	switch status {
	case http.StatusBadRequest:
		return &Error{Kind: classifyBadRequest(msg), Message: msg}
	case http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, Message: msg}
	case http.StatusForbidden:
		return &Error{Kind: KindForbidden, Message: msg}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: msg, ElementID: extractElementID(msg)}
	case http.StatusConflict:
		if containsAny(msg, "exists", "duplicate") {
			return &Error{Kind: KindAlreadyExists, Message: msg}
		}
		return &Error{Kind: KindConflict, Message: msg}
	case http.StatusPreconditionFailed:
		return &Error{Kind: KindConstraintViolation, Message: msg}
	case http.StatusUnprocessableEntity:
		return &Error{Kind: KindSchemaViolation, Message: msg}
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: msg}
	case http.StatusInternalServerError:
		return &Error{Kind: KindInternal, Message: msg}
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return &Error{Kind: KindServiceUnavailable, Message: msg}
	case http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: msg}
	case http.StatusInsufficientStorage:
		return &Error{Kind: KindResourceExhausted, Message: msg}
	default:
		if status >= 400 && status < 500 {
			return &Error{Kind: KindInvalidInput, Message: msg}
		}
		return &Error{Kind: KindInternal, Message: msg}
	}
}

// FromResponse maps a non-2xx response, reading the Retry-After header for
// rate limits. body is the already-drained response body.
func FromResponse(resp *http.Response, body string) *Error {
	e := FromStatus(resp.StatusCode, body)
	if e.Kind == KindRateLimited {
		e.RetryAfterSeconds = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

// FromNetwork classifies a transport-level failure that produced no HTTP
// response.
func FromNetwork(err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return &Error{Kind: KindTimeout, Message: truncate(err.Error(), 512)}
	case containsAny(msg, "connection refused", "unreachable", "reset by peer"):
		return &Error{Kind: KindServiceUnavailable, Message: truncate(err.Error(), 512)}
	case containsAny(msg, "no such host", "dns", "lookup"):
		return &Error{Kind: KindConnectionFailed, Message: truncate(err.Error(), 512)}
	default:
		return &Error{Kind: KindConnectionFailed, Message: truncate(err.Error(), 512)}
	}
}

// classifyBadRequest sub-classifies a 400 by message inspection. Best effort;
// unknown shapes stay invalid-input.
func classifyBadRequest(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "syntax", "query", "aql", "cypher", "gremlin"):
		return KindInvalidQuery
	case containsAny(m, "schema"):
		return KindSchemaViolation
	case containsAny(m, "constraint"):
		return KindConstraintViolation
	case containsAny(m, "deadlock"):
		return KindDeadlock
	default:
		return KindInvalidInput
	}
}

func extractElementID(msg string) string {
	m := elementIDPattern.FindStringSubmatch(msg)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

// parseRetryAfter reads a Retry-After header value in either seconds or
// HTTP-date form, returning whole seconds (0 when absent or unparsable).
func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return int(d.Round(time.Second) / time.Second)
		}
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, sub) {
			return true
		}
	}
	return false
}
