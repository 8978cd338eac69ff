// Package mirror maintains an out-of-process mirror of the authoritative
// project graph: it resolves fingerprint closures through the asset layer,
// reconstructs immutable snapshots with structural reuse, and tracks the
// primary-branch "current" snapshot under concurrent readers.
package mirror

import (
	"errors"
	"fmt"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/graph"
)

var (
	// ErrMissingAsset means a fingerprint reachable from the root was absent
	// from the resolved set. The provider fetches full closures, so a gap is
	// a protocol violation and fatal to the synchronization.
	ErrMissingAsset = errors.New("asset missing from resolved closure")

	// ErrChecksumMismatch means the reconstructed tree does not hash back to
	// the requested root fingerprint.
	ErrChecksumMismatch = errors.New("reconstructed snapshot checksum mismatch")
)

// Reconstruct builds a solution snapshot from a root fingerprint and a
// resolved asset set.
//
// reuse, when non-nil, is a previously reconstructed snapshot: any project
// or document whose fingerprint matches at the same position is taken from
// it verbatim instead of being rebuilt, which is what makes resynchronizing
// a mostly-unchanged graph cheap.
//
// scope, when non-nil, restricts content to the given project identities;
// projects outside the scope become stubs unless reuse already holds their
// full content at the listed fingerprint.
//
// version stamps the resulting solution; it does not participate in any
// fingerprint.
func Reconstruct(root cas.Fingerprint, assets map[cas.Fingerprint]*asset.Asset, reuse *graph.Solution, version int64, scope map[graph.ItemID]bool) (*graph.Solution, error) {
	rootAsset, ok := assets[root]
	if !ok {
		return nil, fmt.Errorf("solution %s: %w", root.Short(), ErrMissingAsset)
	}
	manifest, err := graph.DecodeSolutionManifest(rootAsset.Data)
	if err != nil {
		return nil, err
	}

	projects := make([]*graph.Project, len(manifest.Projects))
	for i, entry := range manifest.Projects {
		p, err := reconstructProject(entry, assets, reuse, scope)
		if err != nil {
			return nil, err
		}
		projects[i] = p
	}

	built := graph.NewSolutionAt(manifest.ID, manifest.Name, projects, version)
	if built.Checksum() != root {
		return nil, fmt.Errorf("built %s, requested %s: %w", built.Checksum().Short(), root.Short(), ErrChecksumMismatch)
	}
	return built, nil
}

func reconstructProject(entry graph.SolutionEntry, assets map[cas.Fingerprint]*asset.Asset, reuse *graph.Solution, scope map[graph.ItemID]bool) (*graph.Project, error) {
	// Same identity at the same fingerprint: reuse the existing instance.
	// A reused full node beats a stub even outside the scope.
	var prior *graph.Project
	if reuse != nil {
		prior = reuse.Project(entry.ID)
		if prior != nil && !prior.Stub() && prior.Checksum() == entry.Checksum {
			return prior, nil
		}
	}

	if scope != nil && !scope[entry.ID] {
		return graph.NewStubProject(entry.ID, entry.Name, entry.Checksum), nil
	}

	pa, ok := assets[entry.Checksum]
	if !ok {
		return nil, fmt.Errorf("project %s (%s): %w", entry.ID, entry.Checksum.Short(), ErrMissingAsset)
	}
	manifest, err := graph.DecodeProjectManifest(pa.Data)
	if err != nil {
		return nil, err
	}

	// Documents from the prior instance of this project are reusable
	// individually even when the project itself changed.
	var priorDocs map[cas.Fingerprint]*graph.Document
	if prior != nil && !prior.Stub() {
		priorDocs = make(map[cas.Fingerprint]*graph.Document, len(prior.Documents()))
		for _, d := range prior.Documents() {
			priorDocs[d.Checksum()] = d
		}
	}

	docs := make([]*graph.Document, len(manifest.Documents))
	for i, sum := range manifest.Documents {
		if d, ok := priorDocs[sum]; ok {
			docs[i] = d
			continue
		}
		da, ok := assets[sum]
		if !ok {
			return nil, fmt.Errorf("document %s of project %s: %w", sum.Short(), entry.ID, ErrMissingAsset)
		}
		d, err := graph.DecodeDocument(da.Data)
		if err != nil {
			return nil, err
		}
		docs[i] = d
	}

	return graph.NewProject(manifest.ID, manifest.Name, docs, manifest.References), nil
}
