package asset

import (
	"context"
	"fmt"
	"sync"

	"graphmirror/cas"
	"graphmirror/graph"
)

// MemoryStore is the in-process authoritative asset store: every published
// snapshot's assets, keyed by fingerprint. Entries are immutable once
// published; an edited node simply publishes under a new fingerprint.
//
// The store counts resolve calls and per-fingerprint fetches so tests can
// verify that unchanged subtrees are never re-fetched.
type MemoryStore struct {
	mu      sync.RWMutex
	assets  map[cas.Fingerprint]*Asset
	calls   int64
	fetched map[cas.Fingerprint]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:  make(map[cas.Fingerprint]*Asset),
		fetched: make(map[cas.Fingerprint]int64),
	}
}

// Publish flattens a solution snapshot into the store. Re-publishing shared
// subtrees is idempotent: they land under the same fingerprints.
func (s *MemoryStore) Publish(sol *graph.Solution) error {
	flat, err := Flatten(sol)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", sol.Checksum().Short(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sum, a := range flat {
		s.assets[sum] = a
	}
	return nil
}

// Add publishes a single asset.
func (s *MemoryStore) Add(a *Asset) {
	s.mu.Lock()
	s.assets[a.Sum] = a
	s.mu.Unlock()
}

// Resolve implements Store. Unknown fingerprints fail the whole call: the
// mirror asked about something that was never published.
func (s *MemoryStore) Resolve(ctx context.Context, sums []cas.Fingerprint) (map[cas.Fingerprint]*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	out := make(map[cas.Fingerprint]*Asset, len(sums))
	for _, sum := range sums {
		a, ok := s.assets[sum]
		if !ok {
			return nil, fmt.Errorf("resolving %s: %w", sum.Short(), ErrNotFound)
		}
		s.fetched[sum]++
		out[sum] = a
	}
	return out, nil
}

// Len returns the number of published assets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

// ResolveCalls returns how many Resolve round trips the store has served.
func (s *MemoryStore) ResolveCalls() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// FetchCount returns how many times a fingerprint has been served.
func (s *MemoryStore) FetchCount(sum cas.Fingerprint) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetched[sum]
}

// TotalFetched returns the total number of assets served across all calls.
func (s *MemoryStore) TotalFetched() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, c := range s.fetched {
		n += c
	}
	return n
}

// ResetCounters clears instrumentation without touching published assets.
func (s *MemoryStore) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
	s.fetched = make(map[cas.Fingerprint]int64)
}
