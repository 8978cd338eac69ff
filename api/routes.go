package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/config"
	"graphmirror/pack"
	"graphmirror/proto"
	"graphmirror/store"
)

// maxResolveBatch bounds a single resolve request.
const maxResolveBatch = 100_000

// Heads is the head-lookup half of the authoritative store.
type Heads interface {
	Head(ctx context.Context) (cas.Fingerprint, int64, error)
}

// Handler serves the sync API for one authoritative asset store.
type Handler struct {
	store asset.Store
	heads Heads
	cfg   *config.Config
	hub   *watchHub
}

// NewHandler creates an API handler over an asset store and head source.
// *store.DB satisfies both.
func NewHandler(assets asset.Store, heads Heads, cfg *config.Config) *Handler {
	return &Handler{store: assets, heads: heads, cfg: cfg, hub: newWatchHub()}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/v1/head", h.Head).Methods(http.MethodGet)
	r.HandleFunc("/v1/assets/resolve", h.ResolveAssets).Methods(http.MethodPost)
	r.HandleFunc("/v1/watch", h.Watch).Methods(http.MethodGet)

	return r
}

// NotifyHead pushes a head change to all websocket watchers. The
// authoritative process calls this after publishing a new snapshot.
func (h *Handler) NotifyHead(ev proto.WatchEvent) {
	h.hub.broadcast(ev)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.HealthResponse{Status: "ok", Version: h.cfg.Version})
}

func (h *Handler) Head(w http.ResponseWriter, r *http.Request) {
	sum, version, err := h.heads.Head(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrHeadNotFound) {
			writeError(w, http.StatusNotFound, "no head published", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "head lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.HeadResponse{Checksum: sum.Hex(), Version: version})
}

func (h *Handler) ResolveAssets(w http.ResponseWriter, r *http.Request) {
	var req proto.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Checksums) == 0 {
		writeError(w, http.StatusBadRequest, "checksums required", nil)
		return
	}
	if len(req.Checksums) > maxResolveBatch {
		writeError(w, http.StatusBadRequest, "batch too large", nil)
		return
	}

	sums := make([]cas.Fingerprint, len(req.Checksums))
	for i, hex := range req.Checksums {
		sum, err := cas.Parse(hex)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed checksum "+hex, nil)
			return
		}
		sums[i] = sum
	}

	resolved, err := h.store.Resolve(r.Context(), sums)
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			// Unknown fingerprint: a protocol violation on the caller's
			// side, surfaced as 404 so the mirror can fail its sync.
			writeError(w, http.StatusNotFound, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "resolve failed", err)
		return
	}

	assets := make([]*asset.Asset, 0, len(resolved))
	for _, sum := range sums {
		assets = append(assets, resolved[sum])
	}
	packed, err := pack.Build(assets)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building pack", err)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(packed); err != nil {
		log.Printf("writing pack response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		log.Printf("api error: %s: %v", msg, err)
	}
	writeJSON(w, status, proto.ErrorResponse{Error: msg})
}
