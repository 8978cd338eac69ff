package asset

import (
	"context"
	"fmt"
	"sync"

	"graphmirror/cas"
)

// Provider resolves batches of fingerprints for the mirror: cache hits are
// served locally, misses go to the authoritative Store in batched round
// trips. The closure of composite assets is followed level by level, so a
// synchronization issues one Resolve call per tree depth of misses rather
// than one per asset.
//
// Concurrent synchronizations with overlapping closures never fetch the
// same fingerprint twice: a fetch in flight is shared by every requester.
type Provider struct {
	store Store
	cache *Cache

	mu       sync.Mutex
	inflight map[cas.Fingerprint]*flight
}

// flight is one in-progress fetch of a single fingerprint. The requester
// that created it performs the batched store call; everyone else waits on
// done.
type flight struct {
	done  chan struct{}
	asset *Asset
	err   error
}

// NewProvider wires a provider to its authoritative store and mirror cache.
func NewProvider(store Store, cache *Cache) *Provider {
	return &Provider{
		store:    store,
		cache:    cache,
		inflight: make(map[cas.Fingerprint]*flight),
	}
}

// Cache exposes the provider's cache so the workspace can protect the
// promoted snapshot's working set.
func (p *Provider) Cache() *Cache {
	return p.cache
}

// Asset resolves a single fingerprint without following its closure.
func (p *Provider) Asset(ctx context.Context, sum cas.Fingerprint) (*Asset, error) {
	got, err := p.resolve(ctx, []cas.Fingerprint{sum})
	if err != nil {
		return nil, err
	}
	return got[sum], nil
}

// Assets resolves the full transitive closure of roots: every fingerprint
// reachable through declared child references is present in the result.
// The returned map is complete or the call fails; reconstruction never has
// to tolerate gaps.
func (p *Provider) Assets(ctx context.Context, roots []cas.Fingerprint) (map[cas.Fingerprint]*Asset, error) {
	resolved := make(map[cas.Fingerprint]*Asset)

	frontier := make([]cas.Fingerprint, 0, len(roots))
	seen := make(map[cas.Fingerprint]bool, len(roots))
	for _, sum := range roots {
		if !seen[sum] {
			seen[sum] = true
			frontier = append(frontier, sum)
		}
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		got, err := p.resolve(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []cas.Fingerprint
		for _, sum := range frontier {
			a := got[sum]
			resolved[sum] = a

			children, err := a.Children()
			if err != nil {
				return nil, fmt.Errorf("walking children of %s: %w", sum.Short(), err)
			}
			for _, child := range children {
				if !seen[child] {
					seen[child] = true
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	return resolved, nil
}

// resolve returns an asset for every requested fingerprint: cache hits
// directly, the rest through a single batched store call shared with any
// concurrent requesters of the same fingerprints.
func (p *Provider) resolve(ctx context.Context, sums []cas.Fingerprint) (map[cas.Fingerprint]*Asset, error) {
	out := make(map[cas.Fingerprint]*Asset, len(sums))

	var misses []cas.Fingerprint
	for _, sum := range sums {
		if a, ok := p.cache.Get(sum); ok {
			out[sum] = a
			continue
		}
		misses = append(misses, sum)
	}
	if len(misses) == 0 {
		return out, nil
	}

	// Partition misses into fetches we own and fetches already in flight.
	p.mu.Lock()
	var own []cas.Fingerprint
	joined := make(map[cas.Fingerprint]*flight)
	owned := make(map[cas.Fingerprint]*flight)
	for _, sum := range misses {
		if fl, ok := p.inflight[sum]; ok {
			joined[sum] = fl
			continue
		}
		fl := &flight{done: make(chan struct{})}
		p.inflight[sum] = fl
		owned[sum] = fl
		own = append(own, sum)
	}
	p.mu.Unlock()

	if len(own) > 0 {
		got, err := p.store.Resolve(ctx, own)

		if err == nil {
			for _, sum := range own {
				a, ok := got[sum]
				if !ok {
					err = fmt.Errorf("store omitted %s: %w", sum.Short(), ErrNotFound)
					break
				}
				if a.Sum != sum {
					err = fmt.Errorf("store returned %s for requested %s: %w", a.Sum.Short(), sum.Short(), ErrCorrupt)
					break
				}
				if verr := a.Verify(); verr != nil {
					err = verr
					break
				}
			}
		}

		if err == nil {
			// The cache is only populated from a fully verified batch, so a
			// failed or cancelled call leaves it exactly as it was.
			for _, sum := range own {
				p.cache.Add(got[sum])
			}
		}

		p.mu.Lock()
		for sum, fl := range owned {
			if err != nil {
				fl.err = err
			} else {
				fl.asset = got[sum]
			}
			delete(p.inflight, sum)
			close(fl.done)
		}
		p.mu.Unlock()

		if err != nil {
			return nil, err
		}
		for _, sum := range own {
			out[sum] = got[sum]
		}
	}

	for sum, fl := range joined {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-fl.done:
		}
		if fl.err != nil {
			return nil, fmt.Errorf("shared fetch of %s: %w", sum.Short(), fl.err)
		}
		out[sum] = fl.asset
	}

	return out, nil
}
