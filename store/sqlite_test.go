package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/graph"
	"graphmirror/mirror"
)

func testSolution() *graph.Solution {
	d1 := graph.NewDocument("doc-1", "a.txt", "alpha")
	d2 := graph.NewDocument("doc-2", "b.txt", "beta")
	p2 := graph.NewProject("proj-2", "p2", []*graph.Document{d2}, nil)
	p1 := graph.NewProject("proj-1", "p1", []*graph.Document{d1}, []graph.ItemID{"proj-2"})
	return graph.NewSolutionAt("sol-1", "sol", []*graph.Project{p1, p2}, 1)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "graphmirror.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPublishAndHead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sol := testSolution()

	if err := db.PublishSolution(ctx, sol, 1); err != nil {
		t.Fatalf("PublishSolution failed: %v", err)
	}

	sum, version, err := db.Head(ctx)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if sum != sol.Checksum() || version != 1 {
		t.Errorf("head mismatch: %s v%d", sum.Short(), version)
	}

	// 1 solution + 2 projects + 2 documents
	n, err := db.AssetCount(ctx)
	if err != nil {
		t.Fatalf("AssetCount failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 assets, got %d", n)
	}
}

func TestHeadNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.Head(context.Background()); !errors.Is(err, ErrHeadNotFound) {
		t.Errorf("expected ErrHeadNotFound, got %v", err)
	}
}

func TestStaleHeadRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v1 := testSolution()
	v2 := v1.WithDocumentText("proj-1", "doc-1", "alpha v2")

	if err := db.PublishSolution(ctx, v2, 2); err != nil {
		t.Fatalf("PublishSolution v2 failed: %v", err)
	}
	if err := db.PublishSolution(ctx, v1, 1); !errors.Is(err, ErrStaleHead) {
		t.Errorf("expected ErrStaleHead, got %v", err)
	}

	sum, version, _ := db.Head(ctx)
	if sum != v2.Checksum() || version != 2 {
		t.Error("stale publish moved the head")
	}
}

func TestResolveUnknownIsNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.PublishSolution(ctx, testSolution(), 1)

	unknown := cas.Hash([]byte("never published"))
	if _, err := db.Resolve(ctx, []cas.Fingerprint{unknown}); !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("expected asset.ErrNotFound, got %v", err)
	}
}

func TestMirrorSyncsFromSQLiteStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sol := testSolution()

	if err := db.PublishSolution(ctx, sol, 1); err != nil {
		t.Fatalf("PublishSolution failed: %v", err)
	}

	ws := mirror.NewWorkspace(asset.NewProvider(db, asset.NewCache(128)))
	got, err := ws.UpdatePrimaryBranch(ctx, sol.Checksum(), 1)
	if err != nil {
		t.Fatalf("UpdatePrimaryBranch failed: %v", err)
	}
	if got.Checksum() != sol.Checksum() {
		t.Error("mirror snapshot fingerprint mismatch")
	}
	if got.Project("proj-2").Document("doc-2").Text() != "beta" {
		t.Error("document content did not survive sqlite round trip")
	}
}

func TestRepublishSharedSubtreesIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v1 := testSolution()
	v2 := v1.WithDocumentText("proj-1", "doc-1", "alpha v2")

	db.PublishSolution(ctx, v1, 1)
	before, _ := db.AssetCount(ctx)
	db.PublishSolution(ctx, v2, 2)
	after, _ := db.AssetCount(ctx)

	// Only the changed path adds rows: new solution, new proj-1, new doc-1.
	if after-before != 3 {
		t.Errorf("expected 3 new rows after edit, got %d", after-before)
	}
}
