// Package memjournal provides an in-memory journal store intended for tests
// and examples.
package memjournal

import (
	"context"
	"sync"

	"github.com/tetherkit/tether/pkg/journal"
)

// Store is an in-memory journal.Store.
type Store struct {
	mu       sync.Mutex
	byWorker map[string][]journal.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{byWorker: make(map[string][]journal.Record)}
}

// Append assigns the next sequence number for the worker and stores the
// record.
func (s *Store) Append(ctx context.Context, r journal.Record) (journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byWorker[r.WorkerID]
	r.Seq = int64(len(recs)) + 1
	s.byWorker[r.WorkerID] = append(recs, r)
	return r, nil
}

// List returns up to limit records with Seq > afterSeq, in order.
func (s *Store) List(ctx context.Context, workerID string, afterSeq int64, limit int) ([]journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []journal.Record
	for _, r := range s.byWorker[workerID] {
		if r.Seq <= afterSeq {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LastSeq returns the highest assigned sequence for the worker.
func (s *Store) LastSeq(ctx context.Context, workerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byWorker[workerID]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Seq, nil
}

// Len reports the number of records stored for the worker. Test helper.
func (s *Store) Len(workerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byWorker[workerID])
}
