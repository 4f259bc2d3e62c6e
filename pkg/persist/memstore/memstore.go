// Package memstore is an in-memory persist.Adapter for tests and for
// development stores that don't need durability.
package memstore

import (
	"context"
	"sync"

	"github.com/bucketdb/bucketdb/pkg/types"
)

// Store is an in-memory persist.Adapter. Saved envelopes are deep-copied
// in by value (via JSON-free struct copy) so a caller mutating its own
// envelope after Save cannot corrupt stored state.
type Store struct {
	mu     sync.RWMutex
	data   map[string]types.Envelope
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]types.Envelope)}
}

func (s *Store) Save(_ context.Context, key string, env types.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copyEnvelope(env)
	return nil
}

func (s *Store) Load(_ context.Context, key string) (*types.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := copyEnvelope(env)
	return &out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyEnvelope(env types.Envelope) types.Envelope {
	entries := make([]types.RecordEntry, len(env.State.Records))
	for i, e := range env.State.Records {
		entries[i] = types.RecordEntry{Key: e.Key, Record: e.Record.Clone()}
	}
	env.State.Records = entries
	return env
}
