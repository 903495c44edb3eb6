// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/arbiter/internal/triage"
)

// Store holds verdicts in memory, keyed by fingerprint. Suitable for single
// runs without a database; nothing survives the process.
type Store struct {
	mu       sync.RWMutex
	verdicts map[string]*triage.Verdict
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{verdicts: make(map[string]*triage.Verdict)}
}

// Get retrieves a verdict by fingerprint. Returns a copy.
func (s *Store) Get(_ context.Context, fingerprint string) (*triage.Verdict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[fingerprint]
	if !ok {
		return nil, false, nil
	}
	cp := *v
	return &cp, true, nil
}

// Put stores a copy of the verdict.
func (s *Store) Put(_ context.Context, fingerprint string, v *triage.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.verdicts[fingerprint] = &cp
	return nil
}
