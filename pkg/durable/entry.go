// Package durable implements the record/replay layer every provider adapter
// shares. A wrapped remote call journals its input and outcome in live mode
// and returns the recorded outcome on replay without touching the provider;
// wrapped streams additionally splice a continuation upstream onto the
// replayed prefix when the journal runs out mid-stream.
package durable

import (
	"encoding/json"

	"github.com/tetherkit/tether/pkg/errmodel"
)

// FunctionType hints the host about replay policy for a journal entry.
type FunctionType string

const (
	ReadRemote  FunctionType = "read-remote"
	WriteRemote FunctionType = "write-remote"
	ReadLocal   FunctionType = "read-local"
	WriteLocal  FunctionType = "write-local"
)

// Outcome is the journaled result of a wrapped call: either a serialized
// output value or a typed adapter error. Exactly one of the two is set,
// except for infallible operations where Err is always nil.
type Outcome struct {
	Output json.RawMessage `json:"output,omitempty"`
	Err    *errmodel.Error `json:"err,omitempty"`
}

// Entry is a single journal record as seen by the durable layer. Storage and
// ordering are owned by the host (see pkg/journal).
type Entry struct {
	Namespace    string          `json:"namespace"`
	Function     string          `json:"function"`
	FunctionType FunctionType    `json:"function_type"`
	Input        json.RawMessage `json:"input"`
	Outcome      Outcome         `json:"outcome"`
}
