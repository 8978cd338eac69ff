// Package graph provides the immutable project graph model: Documents owned
// by Projects owned by a Solution, each node carrying a memoized
// content fingerprint. Nodes are never mutated after construction; edits
// produce new node instances that share every unchanged subtree.
package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"graphmirror/cas"
)

// NodeKind identifies the type of a graph node.
type NodeKind string

const (
	KindSolution NodeKind = "Solution"
	KindProject  NodeKind = "Project"
	KindDocument NodeKind = "Document"
)

// ItemID is a stable, opaque node identity. It survives edits: a document
// keeps its ItemID across text changes while its fingerprint moves.
type ItemID string

// NewItemID allocates a fresh identity.
func NewItemID() ItemID {
	return ItemID(uuid.NewString())
}

// hashNode hashes a node payload, which is built from plain strings and
// slices and therefore cannot fail to marshal.
func hashNode(kind NodeKind, payload interface{}) cas.Fingerprint {
	f, err := cas.HashNode(string(kind), payload)
	if err != nil {
		panic(fmt.Sprintf("graph: hashing %s payload: %v", kind, err))
	}
	return f
}

// Document is a leaf node: a named text payload.
type Document struct {
	id   ItemID
	name string
	text string

	sumOnce sync.Once
	sum     cas.Fingerprint
}

// NewDocument creates an immutable document node.
func NewDocument(id ItemID, name, text string) *Document {
	return &Document{id: id, name: name, text: text}
}

func (d *Document) ID() ItemID   { return d.id }
func (d *Document) Name() string { return d.name }
func (d *Document) Text() string { return d.text }

// Checksum returns the document's content fingerprint. The value is computed
// once per instance; immutability makes the memo permanently valid.
func (d *Document) Checksum() cas.Fingerprint {
	d.sumOnce.Do(func() {
		d.sum = hashNode(KindDocument, d.payload())
	})
	return d.sum
}

// WithText returns a new document instance with replaced text. The identity
// is retained; the fingerprint changes.
func (d *Document) WithText(text string) *Document {
	if text == d.text {
		return d
	}
	return NewDocument(d.id, d.name, text)
}

// Project is an interior node owning an ordered list of Documents plus a set
// of references to other Projects by identity.
type Project struct {
	id   ItemID
	name string
	docs []*Document
	refs []ItemID
	stub bool

	sumOnce sync.Once
	sum     cas.Fingerprint
}

// NewProject creates an immutable project node. Document order is
// significant: consumers rely on enumeration order, so it participates in
// the fingerprint.
func NewProject(id ItemID, name string, docs []*Document, refs []ItemID) *Project {
	return &Project{id: id, name: name, docs: docs, refs: refs}
}

// NewStubProject creates a placeholder for a project that was excluded from a
// scoped synchronization. It carries the project's listing data and declared
// fingerprint but no content.
func NewStubProject(id ItemID, name string, sum cas.Fingerprint) *Project {
	p := &Project{id: id, name: name, stub: true}
	p.sumOnce.Do(func() {}) // declared, never computed
	p.sum = sum
	return p
}

func (p *Project) ID() ItemID   { return p.id }
func (p *Project) Name() string { return p.name }

// Stub reports whether this project is a content-less placeholder from a
// scoped synchronization.
func (p *Project) Stub() bool { return p.stub }

// Documents returns the ordered document list. Nil for stubs.
func (p *Project) Documents() []*Document { return p.docs }

// References returns the identities of projects this project depends on.
func (p *Project) References() []ItemID { return p.refs }

// Document returns the document with the given identity, or nil.
func (p *Project) Document(id ItemID) *Document {
	for _, d := range p.docs {
		if d.id == id {
			return d
		}
	}
	return nil
}

// Checksum returns the project fingerprint: own metadata, ordered document
// fingerprints, and referenced project identities. References contribute
// identity rather than fingerprint, so a dependency's content change does
// not ripple into this project's fingerprint.
func (p *Project) Checksum() cas.Fingerprint {
	p.sumOnce.Do(func() {
		p.sum = hashNode(KindProject, p.payload())
	})
	return p.sum
}

// WithDocument returns a new project with the given document added, or
// replaced in place when a document with the same identity exists.
func (p *Project) WithDocument(d *Document) *Project {
	docs := make([]*Document, 0, len(p.docs)+1)
	replaced := false
	for _, existing := range p.docs {
		if existing.id == d.id {
			docs = append(docs, d)
			replaced = true
			continue
		}
		docs = append(docs, existing)
	}
	if !replaced {
		docs = append(docs, d)
	}
	return NewProject(p.id, p.name, docs, p.refs)
}

// WithoutDocument returns a new project with the identified document removed.
func (p *Project) WithoutDocument(id ItemID) *Project {
	docs := make([]*Document, 0, len(p.docs))
	for _, d := range p.docs {
		if d.id != id {
			docs = append(docs, d)
		}
	}
	return NewProject(p.id, p.name, docs, p.refs)
}

// Solution is the graph root: an ordered list of Projects plus a version
// counter stamped by the authoritative workspace. The version is
// bookkeeping, not content: it never participates in fingerprints, so
// identical content at different versions shares fingerprints.
type Solution struct {
	id       ItemID
	name     string
	projects []*Project
	version  int64

	sumOnce sync.Once
	sum     cas.Fingerprint
}

// NewSolution creates an empty solution at version 1.
func NewSolution(name string) *Solution {
	return &Solution{id: NewItemID(), name: name, version: 1}
}

// NewSolutionAt assembles a solution from parts at an explicit version.
// Reconstruction on the mirror side uses this.
func NewSolutionAt(id ItemID, name string, projects []*Project, version int64) *Solution {
	return &Solution{id: id, name: name, projects: projects, version: version}
}

func (s *Solution) ID() ItemID     { return s.id }
func (s *Solution) Name() string   { return s.name }
func (s *Solution) Version() int64 { return s.version }

// Projects returns the ordered project list.
func (s *Solution) Projects() []*Project { return s.projects }

// Project returns the project with the given identity, or nil.
func (s *Solution) Project(id ItemID) *Project {
	for _, p := range s.projects {
		if p.id == id {
			return p
		}
	}
	return nil
}

// Checksum returns the solution fingerprint: own metadata plus the ordered
// project listing (identity, name, fingerprint per project).
func (s *Solution) Checksum() cas.Fingerprint {
	s.sumOnce.Do(func() {
		s.sum = hashNode(KindSolution, s.payload())
	})
	return s.sum
}

// WithProject returns a new solution with the project added (or replaced by
// identity) and the version bumped. Unchanged projects are shared.
func (s *Solution) WithProject(p *Project) *Solution {
	projects := make([]*Project, 0, len(s.projects)+1)
	replaced := false
	for _, existing := range s.projects {
		if existing.id == p.id {
			projects = append(projects, p)
			replaced = true
			continue
		}
		projects = append(projects, existing)
	}
	if !replaced {
		projects = append(projects, p)
	}
	return NewSolutionAt(s.id, s.name, projects, s.version+1)
}

// WithoutProject returns a new solution with the identified project removed
// and the version bumped.
func (s *Solution) WithoutProject(id ItemID) *Solution {
	projects := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.id != id {
			projects = append(projects, p)
		}
	}
	return NewSolutionAt(s.id, s.name, projects, s.version+1)
}

// WithDocumentText returns a new solution in which one document's text is
// replaced. Only the nodes on the path document -> project -> solution are
// new instances; every sibling subtree is shared.
func (s *Solution) WithDocumentText(projectID, docID ItemID, text string) *Solution {
	p := s.Project(projectID)
	if p == nil || p.stub {
		return s
	}
	d := p.Document(docID)
	if d == nil {
		return s
	}
	next := d.WithText(text)
	if next == d {
		return s
	}
	return s.WithProject(p.WithDocument(next))
}

// Cone computes the project cone of scope: scope itself plus every project
// transitively reachable over "depends on" reference edges. The result is a
// set of project identities. Reference edges form a DAG; the visited set
// keeps diamonds from being walked twice and bounds the walk even if the
// invariant is violated upstream.
func (s *Solution) Cone(scope ItemID) map[ItemID]bool {
	cone := make(map[ItemID]bool)
	queue := []ItemID{scope}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if cone[id] {
			continue
		}
		cone[id] = true
		if p := s.Project(id); p != nil {
			queue = append(queue, p.refs...)
		}
	}
	return cone
}
