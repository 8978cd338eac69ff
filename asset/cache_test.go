package asset

import (
	"fmt"
	"testing"

	"graphmirror/cas"
	"graphmirror/graph"
)

func docAsset(t *testing.T, text string) *Asset {
	t.Helper()
	a, err := FromDocument(graph.NewDocument(graph.ItemID("id-"+text), text, text))
	if err != nil {
		t.Fatalf("FromDocument failed: %v", err)
	}
	return a
}

func TestCacheGetAdd(t *testing.T) {
	c := NewCache(10)
	a := docAsset(t, "one")

	if _, ok := c.Get(a.Sum); ok {
		t.Fatal("empty cache reported a hit")
	}

	c.Add(a)
	got, ok := c.Get(a.Sum)
	if !ok {
		t.Fatal("expected hit after Add")
	}
	if got != a {
		t.Error("cache returned a different asset instance")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	c := NewCache(3)

	assets := make([]*Asset, 5)
	for i := range assets {
		assets[i] = docAsset(t, fmt.Sprintf("doc-%d", i))
	}

	c.Add(assets[0])
	c.Add(assets[1])
	c.Add(assets[2])

	// Touch 0 so 1 becomes the eviction candidate.
	c.Get(assets[0].Sum)
	c.Add(assets[3])

	if _, ok := c.Get(assets[1].Sum); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get(assets[0].Sum); !ok {
		t.Error("recently touched entry was evicted")
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}
}

func TestCacheProtectBlocksEviction(t *testing.T) {
	c := NewCache(2)

	a := docAsset(t, "live-1")
	b := docAsset(t, "live-2")
	c.Add(a)
	c.Add(b)
	c.Protect([]cas.Fingerprint{a.Sum, b.Sum})

	// Churn through many transient assets: all must evict around the
	// protected pair, never through it.
	for i := 0; i < 20; i++ {
		c.Add(docAsset(t, fmt.Sprintf("transient-%d", i)))
	}

	if _, ok := c.Get(a.Sum); !ok {
		t.Error("protected asset was evicted")
	}
	if _, ok := c.Get(b.Sum); !ok {
		t.Error("protected asset was evicted")
	}
}

func TestCacheProtectReplacement(t *testing.T) {
	c := NewCache(1)

	a := docAsset(t, "old-working-set")
	c.Add(a)
	c.Protect([]cas.Fingerprint{a.Sum})

	b := docAsset(t, "new-working-set")
	c.Add(b)

	// Moving protection to b releases a, and the over-capacity cache must
	// now shed it.
	c.Protect([]cas.Fingerprint{b.Sum})

	if _, ok := c.Get(a.Sum); ok {
		t.Error("previously protected asset should be evictable after Protect moves on")
	}
	if _, ok := c.Get(b.Sum); !ok {
		t.Error("newly protected asset missing")
	}
}

func TestCacheAddExistingRefreshesOnly(t *testing.T) {
	c := NewCache(2)
	a := docAsset(t, "a")
	b := docAsset(t, "b")

	c.Add(a)
	c.Add(b)
	c.Add(a) // refresh, not duplicate
	if c.Len() != 2 {
		t.Errorf("re-adding an entry changed cache size: %d", c.Len())
	}

	c.Add(docAsset(t, "c"))
	if _, ok := c.Get(a.Sum); !ok {
		t.Error("refreshed entry should have survived eviction")
	}
}
