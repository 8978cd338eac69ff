package mirror

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/graph"
)

// Branch is the mirror's promoted primary-branch state: one fully formed
// snapshot and its version. Instances are immutable; promotion swaps the
// whole pointer.
type Branch struct {
	Solution *graph.Solution
	Version  int64
}

// Change describes a primary-branch replacement. Old is nil for the first
// promotion.
type Change struct {
	Old *Branch
	New *Branch
}

// SnapshotOptions controls a synchronization request.
type SnapshotOptions struct {
	// FromPrimaryBranch allows answering from the live current snapshot
	// when the requested fingerprint matches it, with no resolution work.
	FromPrimaryBranch bool
	// Version stamps the returned detached snapshot.
	Version int64
	// Scope, when set, restricts synchronization to that project's cone:
	// the project plus its transitive reference closure. Other projects
	// are represented as stubs.
	Scope graph.ItemID
}

// Workspace is the mirror-side synchronization entry point. Reads of the
// current branch are lock-free; mutation of the branch pointer is
// serialized and version-ordered.
type Workspace struct {
	provider *asset.Provider

	mu      sync.Mutex // linearizes branch mutation and subscriber delivery
	current atomic.Pointer[Branch]
	subs    []func(Change)
}

// NewWorkspace creates an empty workspace (no current snapshot).
func NewWorkspace(provider *asset.Provider) *Workspace {
	return &Workspace{provider: provider}
}

// Current returns the promoted snapshot and version, or ok=false while the
// workspace is still empty. The returned snapshot is immutable and safe to
// read without locking.
func (w *Workspace) Current() (*graph.Solution, int64, bool) {
	br := w.current.Load()
	if br == nil {
		return nil, 0, false
	}
	return br.Solution, br.Version, true
}

// Subscribe registers a hook fired on every primary-branch replacement.
// Hooks run synchronously in promotion order and must not call back into
// the workspace.
func (w *Workspace) Subscribe(fn func(Change)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Snapshot synchronizes to the given root fingerprint and returns a
// detached snapshot; the current branch is never touched.
//
// With FromPrimaryBranch set and a root matching the live current snapshot,
// that snapshot is returned directly. Otherwise the closure is resolved
// through the provider, reusing the current snapshot's subtrees wherever
// fingerprints match.
func (w *Workspace) Snapshot(ctx context.Context, root cas.Fingerprint, opts SnapshotOptions) (*graph.Solution, error) {
	cur := w.current.Load()

	if opts.FromPrimaryBranch && cur != nil && cur.Solution.Checksum() == root {
		return cur.Solution, nil
	}

	var reuse *graph.Solution
	if cur != nil {
		reuse = cur.Solution
	}

	if opts.Scope != "" {
		assets, cone, err := w.resolveScoped(ctx, root, opts.Scope)
		if err != nil {
			return nil, err
		}
		return Reconstruct(root, assets, reuse, opts.Version, cone)
	}

	assets, err := w.resolveFull(ctx, root)
	if err != nil {
		return nil, err
	}
	return Reconstruct(root, assets, reuse, opts.Version, nil)
}

// UpdatePrimaryBranch synchronizes the full graph at root and promotes it to
// current if version is at least the stored version. Stale updates are
// dropped silently: the surviving snapshot is returned either way.
func (w *Workspace) UpdatePrimaryBranch(ctx context.Context, root cas.Fingerprint, version int64) (*graph.Solution, error) {
	cur := w.current.Load()
	if cur != nil && version < cur.Version {
		return cur.Solution, nil
	}

	// Same content, newer (or equal) version: move the version forward
	// without any resolution work.
	if cur != nil && cur.Solution.Checksum() == root {
		w.install(&Branch{Solution: cur.Solution, Version: version}, false)
		br := w.current.Load()
		return br.Solution, nil
	}

	var reuse *graph.Solution
	if cur != nil {
		reuse = cur.Solution
	}
	assets, err := w.resolveFull(ctx, root)
	if err != nil {
		return nil, err
	}
	built, err := Reconstruct(root, assets, reuse, version, nil)
	if err != nil {
		return nil, err
	}

	w.install(&Branch{Solution: built, Version: version}, false)
	br := w.current.Load()
	return br.Solution, nil
}

// TrySetCurrent installs a fully specified snapshot as current if and only
// if version is strictly greater than the stored version. The bool result
// lets callers detect a lost race against a concurrent newer update.
func (w *Workspace) TrySetCurrent(sol *graph.Solution, version int64) bool {
	return w.install(&Branch{Solution: sol, Version: version}, true)
}

// install swaps the branch pointer under the mutation lock, re-checking the
// version ordering there: the pre-checks in callers run before resolution
// and a concurrent update may have advanced the branch since.
func (w *Workspace) install(next *Branch, strict bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := w.current.Load()
	if old != nil {
		if strict && next.Version <= old.Version {
			return false
		}
		if !strict && next.Version < old.Version {
			return false
		}
		if old.Solution == next.Solution && old.Version == next.Version {
			return true
		}
	}

	w.current.Store(next)
	w.provider.Cache().Protect(snapshotClosure(next.Solution))

	change := Change{Old: old, New: next}
	for _, fn := range w.subs {
		fn(change)
	}
	return true
}

// resolveFull fetches the complete closure of a solution root, fanning out
// one concurrent sub-fetch per project. The provider's in-flight table
// keeps overlapping project closures from fetching anything twice.
func (w *Workspace) resolveFull(ctx context.Context, root cas.Fingerprint) (map[cas.Fingerprint]*asset.Asset, error) {
	rootAsset, err := w.provider.Asset(ctx, root)
	if err != nil {
		return nil, err
	}
	manifest, err := graph.DecodeSolutionManifest(rootAsset.Data)
	if err != nil {
		return nil, err
	}

	assets := map[cas.Fingerprint]*asset.Asset{root: rootAsset}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range manifest.Projects {
		sum := entry.Checksum
		g.Go(func() error {
			got, err := w.provider.Assets(gctx, []cas.Fingerprint{sum})
			if err != nil {
				return err
			}
			mu.Lock()
			for s, a := range got {
				assets[s] = a
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

// resolveScoped fetches the closure of root restricted to scope's project
// cone, walking "depends on" reference edges outward from scope through the
// project manifests as they arrive.
func (w *Workspace) resolveScoped(ctx context.Context, root cas.Fingerprint, scope graph.ItemID) (map[cas.Fingerprint]*asset.Asset, map[graph.ItemID]bool, error) {
	rootAsset, err := w.provider.Asset(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := graph.DecodeSolutionManifest(rootAsset.Data)
	if err != nil {
		return nil, nil, err
	}
	if manifest.Entry(scope) == nil {
		return nil, nil, fmt.Errorf("scope project %s not in solution %s listing", scope, root.Short())
	}

	assets := map[cas.Fingerprint]*asset.Asset{root: rootAsset}
	cone := map[graph.ItemID]bool{scope: true}
	frontier := []graph.ItemID{scope}

	for len(frontier) > 0 {
		sums := make([]cas.Fingerprint, 0, len(frontier))
		ids := make([]graph.ItemID, 0, len(frontier))
		for _, id := range frontier {
			entry := manifest.Entry(id)
			if entry == nil {
				// A dangling reference: the target project is not in this
				// solution, so there is nothing to synchronize for it.
				delete(cone, id)
				continue
			}
			sums = append(sums, entry.Checksum)
			ids = append(ids, id)
		}
		if len(sums) == 0 {
			break
		}

		got, err := w.provider.Assets(ctx, sums)
		if err != nil {
			return nil, nil, err
		}
		for s, a := range got {
			assets[s] = a
		}

		frontier = frontier[:0]
		for i, sum := range sums {
			pm, err := graph.DecodeProjectManifest(got[sum].Data)
			if err != nil {
				return nil, nil, fmt.Errorf("project %s: %w", ids[i], err)
			}
			for _, ref := range pm.References {
				if !cone[ref] {
					cone[ref] = true
					frontier = append(frontier, ref)
				}
			}
		}
	}

	return assets, cone, nil
}

// snapshotClosure collects every fingerprint reachable from a snapshot:
// the promoted working set the cache must not evict.
func snapshotClosure(s *graph.Solution) []cas.Fingerprint {
	sums := []cas.Fingerprint{s.Checksum()}
	for _, p := range s.Projects() {
		sums = append(sums, p.Checksum())
		for _, d := range p.Documents() {
			sums = append(sums, d.Checksum())
		}
	}
	return sums
}
