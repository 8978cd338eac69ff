package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/config"
	"graphmirror/graph"
	"graphmirror/mirror"
	"graphmirror/proto"
	"graphmirror/store"
)

type headStub struct {
	sum     cas.Fingerprint
	version int64
	err     error
}

func (h *headStub) Head(ctx context.Context) (cas.Fingerprint, int64, error) {
	return h.sum, h.version, h.err
}

func newTestServer(t *testing.T, assets asset.Store, heads Heads) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(assets, heads, config.Default())
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func buildSolution() *graph.Solution {
	doc := graph.NewDocument(graph.NewItemID(), "main.go", "package main")
	proj := graph.NewProject(graph.NewItemID(), "app", []*graph.Document{doc}, nil)
	sol := graph.NewSolution("demo")
	return sol.WithProject(proj)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, asset.NewMemoryStore(), &headStub{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health proto.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
}

func TestHeadNotPublished(t *testing.T) {
	srv, _ := newTestServer(t, asset.NewMemoryStore(), &headStub{err: store.ErrHeadNotFound})

	client := NewClient(srv.URL)
	if _, _, err := client.Head(context.Background()); err == nil {
		t.Fatal("expected error for unpublished head")
	}
}

func TestHeadRoundTrip(t *testing.T) {
	sol := buildSolution()
	srv, _ := newTestServer(t, asset.NewMemoryStore(), &headStub{sum: sol.Checksum(), version: 7})

	client := NewClient(srv.URL)
	sum, version, err := client.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if sum != sol.Checksum() {
		t.Errorf("head checksum = %s, want %s", sum.Short(), sol.Checksum().Short())
	}
	if version != 7 {
		t.Errorf("head version = %d, want 7", version)
	}
}

func TestResolveRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, asset.NewMemoryStore(), &headStub{})

	for name, body := range map[string]string{
		"empty batch":        `{"checksums":[]}`,
		"malformed checksum": `{"checksums":["zz"]}`,
		"invalid json":       `{`,
	} {
		resp, err := http.Post(srv.URL+"/v1/assets/resolve", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("%s: POST: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestResolveUnknownChecksumIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, asset.NewMemoryStore(), &headStub{})

	client := NewClient(srv.URL)
	_, err := client.Resolve(context.Background(), []cas.Fingerprint{cas.Hash([]byte("nope"))})
	if !errors.Is(err, asset.ErrNotFound) {
		t.Fatalf("err = %v, want asset.ErrNotFound", err)
	}
}

func TestResolveReturnsVerifiedPack(t *testing.T) {
	sol := buildSolution()
	memory := asset.NewMemoryStore()
	if err := memory.Publish(sol); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	srv, _ := newTestServer(t, memory, &headStub{sum: sol.Checksum(), version: 1})

	client := NewClient(srv.URL)
	want, err := asset.Flatten(sol)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	sums := make([]cas.Fingerprint, 0, len(want))
	for sum := range want {
		sums = append(sums, sum)
	}

	got, err := client.Resolve(context.Background(), sums)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("resolved %d assets, want %d", len(got), len(want))
	}
	for sum, a := range got {
		if err := a.Verify(); err != nil {
			t.Errorf("asset %s: %v", sum.Short(), err)
		}
	}
}

func TestMirrorSyncOverHTTP(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "graphs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	sol := buildSolution()
	if err := db.PublishSolution(ctx, sol, 1); err != nil {
		t.Fatalf("PublishSolution: %v", err)
	}

	srv, _ := newTestServer(t, db, db)
	client := NewClient(srv.URL)

	ws := mirror.NewWorkspace(asset.NewProvider(client, asset.NewCache(asset.DefaultCacheCapacity)))

	root, version, err := client.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	got, err := ws.UpdatePrimaryBranch(ctx, root, version)
	if err != nil {
		t.Fatalf("UpdatePrimaryBranch: %v", err)
	}
	if got.Checksum() != sol.Checksum() {
		t.Fatalf("mirrored checksum = %s, want %s", got.Checksum().Short(), sol.Checksum().Short())
	}

	// Edit one document upstream, publish v2, and resync.
	proj := sol.Projects()[0]
	doc := proj.Documents()[0]
	next := sol.WithDocumentText(proj.ID(), doc.ID(), "package main\n\nfunc main() {}")
	if err := db.PublishSolution(ctx, next, 2); err != nil {
		t.Fatalf("PublishSolution v2: %v", err)
	}

	root2, version2, err := client.Head(ctx)
	if err != nil {
		t.Fatalf("Head v2: %v", err)
	}
	got2, err := ws.UpdatePrimaryBranch(ctx, root2, version2)
	if err != nil {
		t.Fatalf("UpdatePrimaryBranch v2: %v", err)
	}
	if got2.Checksum() != next.Checksum() {
		t.Fatalf("mirrored v2 checksum = %s, want %s", got2.Checksum().Short(), next.Checksum().Short())
	}
	if _, current, ok := ws.Current(); !ok || current != 2 {
		t.Errorf("current version = %d (ok=%v), want 2", current, ok)
	}
}

func TestWatchDeliversHeadChanges(t *testing.T) {
	sol := buildSolution()
	srv, h := newTestServer(t, asset.NewMemoryStore(), &headStub{sum: sol.Checksum(), version: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan proto.WatchEvent, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		client := NewClient(srv.URL)
		client.Watch(ctx, func(ev proto.WatchEvent) {
			events <- ev
		})
	}()
	<-started

	// Give the websocket time to register with the hub before publishing.
	deadline := time.After(5 * time.Second)
	ev := proto.WatchEvent{Checksum: sol.Checksum().Hex(), Version: 2}
	for {
		h.NotifyHead(ev)
		select {
		case got := <-events:
			if got.Checksum != ev.Checksum || got.Version != 2 {
				t.Fatalf("event = %+v, want %+v", got, ev)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for watch event")
		}
	}
}
