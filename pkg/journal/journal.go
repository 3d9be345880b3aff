// Package journal owns the persisted side of the durable layer: the record
// shape, the store contract, and the Worker that implements durable.Host by
// replaying a worker's recorded entries before going live.
// Implementations must provide identical semantics across backends so a
// worker replays the same way wherever its journal lives.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tetherkit/tether/pkg/durable"
	"github.com/tetherkit/tether/pkg/errmodel"
)

// Record is the persisted representation of one journal entry.
type Record struct {
	ID           string
	WorkerID     string
	Seq          int64
	Namespace    string
	Function     string
	FunctionType durable.FunctionType
	Input        json.RawMessage
	Output       json.RawMessage
	Error        json.RawMessage
	CreatedAt    time.Time
}

// outcome reconstructs the durable outcome from the stored columns.
func (r Record) outcome() (durable.Outcome, error) {
	if len(r.Error) > 0 {
		var e errmodel.Error
		if err := json.Unmarshal(r.Error, &e); err != nil {
			return durable.Outcome{}, err
		}
		return durable.Outcome{Err: &e}, nil
	}
	return durable.Outcome{Output: r.Output}, nil
}

// Store persists and retrieves journal records for workers. Append assigns
// the record's sequence number; records for one worker are totally ordered
// by Seq.
type Store interface {
	Append(ctx context.Context, r Record) (Record, error)
	List(ctx context.Context, workerID string, afterSeq int64, limit int) ([]Record, error)
	LastSeq(ctx context.Context, workerID string) (int64, error)
}
