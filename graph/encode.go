package graph

import (
	"encoding/json"
	"fmt"

	"graphmirror/cas"
)

// Node payloads are the canonical serialized form of each node kind. A
// node's fingerprint is cas.HashNode(kind, payload), and the asset bytes
// shipped across the process boundary are cas.CanonicalJSON(payload) of the
// same value, so any party can re-derive the fingerprint from the bytes.

type documentPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

type projectPayload struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Documents  []string `json:"documents"`  // ordered document fingerprints, hex
	References []string `json:"references"` // referenced project identities
}

type projectEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

type solutionPayload struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Projects []projectEntry `json:"projects"` // ordered
}

func (d *Document) payload() documentPayload {
	return documentPayload{ID: string(d.id), Name: d.name, Text: d.text}
}

func (p *Project) payload() projectPayload {
	docs := make([]string, len(p.docs))
	for i, d := range p.docs {
		docs[i] = d.Checksum().Hex()
	}
	refs := make([]string, len(p.refs))
	for i, r := range p.refs {
		refs[i] = string(r)
	}
	return projectPayload{ID: string(p.id), Name: p.name, Documents: docs, References: refs}
}

func (s *Solution) payload() solutionPayload {
	entries := make([]projectEntry, len(s.projects))
	for i, p := range s.projects {
		entries[i] = projectEntry{ID: string(p.id), Name: p.name, Checksum: p.Checksum().Hex()}
	}
	return solutionPayload{ID: string(s.id), Name: s.name, Projects: entries}
}

// Encode returns the canonical asset bytes for a document.
func (d *Document) Encode() ([]byte, error) {
	return cas.CanonicalJSON(d.payload())
}

// Encode returns the canonical asset bytes for a project.
func (p *Project) Encode() ([]byte, error) {
	return cas.CanonicalJSON(p.payload())
}

// Encode returns the canonical asset bytes for a solution.
func (s *Solution) Encode() ([]byte, error) {
	return cas.CanonicalJSON(s.payload())
}

// DecodeDocument rebuilds a document node from asset bytes.
func DecodeDocument(data []byte) (*Document, error) {
	var p documentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding document payload: %w", err)
	}
	return NewDocument(ItemID(p.ID), p.Name, p.Text), nil
}

// ProjectManifest is the decoded form of a project asset: enough to
// enumerate the project's child fingerprints and reference edges without
// materializing document nodes.
type ProjectManifest struct {
	ID         ItemID
	Name       string
	Documents  []cas.Fingerprint
	References []ItemID
}

// DecodeProjectManifest parses project asset bytes.
func DecodeProjectManifest(data []byte) (*ProjectManifest, error) {
	var p projectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding project payload: %w", err)
	}
	m := &ProjectManifest{ID: ItemID(p.ID), Name: p.Name}
	m.Documents = make([]cas.Fingerprint, len(p.Documents))
	for i, hex := range p.Documents {
		sum, err := cas.Parse(hex)
		if err != nil {
			return nil, fmt.Errorf("project %s document %d: %w", p.ID, i, err)
		}
		m.Documents[i] = sum
	}
	m.References = make([]ItemID, len(p.References))
	for i, r := range p.References {
		m.References[i] = ItemID(r)
	}
	return m, nil
}

// SolutionEntry is one row of a solution's project listing.
type SolutionEntry struct {
	ID       ItemID
	Name     string
	Checksum cas.Fingerprint
}

// SolutionManifest is the decoded form of a solution asset.
type SolutionManifest struct {
	ID       ItemID
	Name     string
	Projects []SolutionEntry
}

// Entry returns the listing row for a project identity, or nil.
func (m *SolutionManifest) Entry(id ItemID) *SolutionEntry {
	for i := range m.Projects {
		if m.Projects[i].ID == id {
			return &m.Projects[i]
		}
	}
	return nil
}

// DecodeSolutionManifest parses solution asset bytes.
func DecodeSolutionManifest(data []byte) (*SolutionManifest, error) {
	var p solutionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding solution payload: %w", err)
	}
	m := &SolutionManifest{ID: ItemID(p.ID), Name: p.Name}
	m.Projects = make([]SolutionEntry, len(p.Projects))
	for i, e := range p.Projects {
		sum, err := cas.Parse(e.Checksum)
		if err != nil {
			return nil, fmt.Errorf("solution project %s: %w", e.ID, err)
		}
		m.Projects[i] = SolutionEntry{ID: ItemID(e.ID), Name: e.Name, Checksum: sum}
	}
	return m, nil
}
