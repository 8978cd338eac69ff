// Package asset moves serialized graph nodes across the process boundary.
// The authoritative side publishes assets keyed by fingerprint; the mirror
// side resolves them through a bounded cache with batched, coalesced fetches.
package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"graphmirror/cas"
	"graphmirror/graph"
)

var (
	// ErrNotFound means a fingerprint was requested that the authoritative
	// side never published. This is a protocol violation, not a transient
	// miss: the caller must abort the synchronization.
	ErrNotFound = errors.New("asset not found")

	// ErrCorrupt means asset bytes do not hash to their claimed fingerprint.
	ErrCorrupt = errors.New("asset content does not match fingerprint")
)

// Asset is one serialized graph node: its fingerprint, node kind, and
// canonical payload bytes. The fingerprint is re-derivable from kind+data,
// so assets can be verified wherever they land.
type Asset struct {
	Sum  cas.Fingerprint
	Kind graph.NodeKind
	Data []byte
}

// New builds an asset from canonical payload bytes, computing the fingerprint.
func New(kind graph.NodeKind, data []byte) *Asset {
	return &Asset{
		Sum:  cas.Hash(append([]byte(string(kind)+"\n"), data...)),
		Kind: kind,
		Data: data,
	}
}

// Verify recomputes the fingerprint from kind and data.
func (a *Asset) Verify() error {
	want := cas.Hash(append([]byte(string(a.Kind)+"\n"), a.Data...))
	if !bytes.Equal(want[:], a.Sum[:]) {
		return fmt.Errorf("%w: %s claims %s, content hashes to %s", ErrCorrupt, a.Kind, a.Sum.Short(), want.Short())
	}
	return nil
}

// Children returns the fingerprints this asset declares as direct
// descendants: project fingerprints for a solution, document fingerprints
// for a project, nothing for a document. Closure walking follows these.
func (a *Asset) Children() ([]cas.Fingerprint, error) {
	switch a.Kind {
	case graph.KindSolution:
		m, err := graph.DecodeSolutionManifest(a.Data)
		if err != nil {
			return nil, err
		}
		sums := make([]cas.Fingerprint, len(m.Projects))
		for i, e := range m.Projects {
			sums[i] = e.Checksum
		}
		return sums, nil
	case graph.KindProject:
		m, err := graph.DecodeProjectManifest(a.Data)
		if err != nil {
			return nil, err
		}
		return m.Documents, nil
	case graph.KindDocument:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown asset kind %q", a.Kind)
	}
}

// Store is the authoritative-side bulk lookup boundary. Calls into a Store
// are the protocol's only suspension points; implementations may cross a
// network and must honor ctx.
type Store interface {
	// Resolve returns an asset for every requested fingerprint. A single
	// unknown fingerprint fails the whole call with ErrNotFound.
	Resolve(ctx context.Context, sums []cas.Fingerprint) (map[cas.Fingerprint]*Asset, error)
}

// FromDocument serializes a document node.
func FromDocument(d *graph.Document) (*Asset, error) {
	data, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return &Asset{Sum: d.Checksum(), Kind: graph.KindDocument, Data: data}, nil
}

// FromProject serializes a project node.
func FromProject(p *graph.Project) (*Asset, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, err
	}
	return &Asset{Sum: p.Checksum(), Kind: graph.KindProject, Data: data}, nil
}

// FromSolution serializes a solution node.
func FromSolution(s *graph.Solution) (*Asset, error) {
	data, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return &Asset{Sum: s.Checksum(), Kind: graph.KindSolution, Data: data}, nil
}

// Flatten serializes a solution and its full reachable subtree into assets
// keyed by fingerprint. Stub projects cannot be flattened: their content is
// unknown by construction.
func Flatten(s *graph.Solution) (map[cas.Fingerprint]*Asset, error) {
	out := make(map[cas.Fingerprint]*Asset)

	root, err := FromSolution(s)
	if err != nil {
		return nil, err
	}
	out[root.Sum] = root

	for _, p := range s.Projects() {
		if p.Stub() {
			return nil, fmt.Errorf("flattening %s: project %s is a stub", s.Checksum().Short(), p.ID())
		}
		pa, err := FromProject(p)
		if err != nil {
			return nil, err
		}
		out[pa.Sum] = pa
		for _, d := range p.Documents() {
			da, err := FromDocument(d)
			if err != nil {
				return nil, err
			}
			out[da.Sum] = da
		}
	}
	return out, nil
}
