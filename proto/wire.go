// Package proto defines wire format DTOs for the graphmirror HTTP API.
package proto

// HeadResponse describes the authoritative side's current root.
type HeadResponse struct {
	// Checksum is the current solution root fingerprint, hex.
	Checksum string `json:"checksum"`
	// Version is the workspace version stamped on that root.
	Version int64 `json:"version"`
}

// ResolveRequest asks the authoritative side for a batch of assets.
type ResolveRequest struct {
	// Checksums are the requested fingerprints, hex.
	Checksums []string `json:"checksums"`
}

// PackHeader describes the objects inside an asset pack.
type PackHeader struct {
	Objects []PackObjectEntry `json:"objects"`
}

// PackObjectEntry locates one asset inside a pack's data section.
type PackObjectEntry struct {
	// Checksum is the asset fingerprint, hex.
	Checksum string `json:"checksum"`
	// Kind is the node kind: Solution, Project, or Document.
	Kind string `json:"kind"`
	// Offset is relative to the start of the data section.
	Offset int64 `json:"offset"`
	// Length is the asset's byte length.
	Length int64 `json:"length"`
}

// WatchEvent is pushed to websocket watchers when the primary branch moves.
type WatchEvent struct {
	// Checksum is the new root fingerprint, hex.
	Checksum string `json:"checksum"`
	// Version is the new version.
	Version int64 `json:"version"`
	// OldChecksum is the replaced root fingerprint, hex; empty on the first
	// promotion.
	OldChecksum string `json:"oldChecksum,omitempty"`
	// OldVersion is the replaced version.
	OldVersion int64 `json:"oldVersion,omitempty"`
}

// ErrorResponse carries an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports server health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
