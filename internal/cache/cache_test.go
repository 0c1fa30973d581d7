package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/customdata/internal/catalog"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !IsMiss(err) {
		t.Fatalf("expected a miss, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("expected set to succeed, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("expected overwrite to succeed, got %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q (%v)", got, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
	if _, err := store.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected a miss after delete, got %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("expected deleting a missing key to succeed, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(DefaultConfig()))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(DefaultConfig())
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("expected set to succeed, got %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := store.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore(DefaultConfig())
	ctx := context.Background()
	value := []byte("abc")
	_ = store.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("expected stored value to be isolated, got %q", got)
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	exerciseStore(t, store)
}

func TestFileStoreExpiry(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), Config{DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("expected set to succeed, got %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := store.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

type countingSource struct {
	calls int
	cat   *catalog.Catalog
	err   error
}

func (s *countingSource) Load(ctx context.Context, ownerTypes []string) (*catalog.Catalog, error) {
	s.calls++
	return s.cat, s.err
}

func sampleCatalog() *catalog.Catalog {
	return catalog.New(
		[]catalog.MetaobjectDefinition{{ID: "gid://1", Type: "recipe", Fields: []catalog.MetafieldDefinition{{Key: "title", Type: "single_line_text_field"}}}},
		[]catalog.MetafieldDefinition{{Key: "subtitle", Type: "single_line_text_field", OwnerType: "Product"}},
	)
}

func TestCatalogSourceCachesUpstream(t *testing.T) {
	upstream := &countingSource{cat: sampleCatalog()}
	source := NewCatalogSource(upstream, NewMemoryStore(DefaultConfig()), "custom", time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := source.Load(ctx, []string{"Product", "Collection"})
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	second, err := source.Load(ctx, []string{"Collection", "Product"})
	if err != nil {
		t.Fatalf("expected cached load to succeed, got %v", err)
	}
	if upstream.calls != 1 {
		t.Fatalf("expected one upstream load, got %d", upstream.calls)
	}

	d1, _ := catalog.Digest(first)
	d2, _ := catalog.Digest(second)
	if d1 != d2 {
		t.Fatalf("expected cached catalog to match upstream")
	}

	if err := source.Invalidate(ctx, []string{"Product", "Collection"}); err != nil {
		t.Fatalf("expected invalidate to succeed, got %v", err)
	}
	if _, err := source.Load(ctx, []string{"Product", "Collection"}); err != nil {
		t.Fatalf("expected reload to succeed, got %v", err)
	}
	if upstream.calls != 2 {
		t.Fatalf("expected invalidation to reach upstream, got %d calls", upstream.calls)
	}
}

func TestCatalogSourceDiscardsCorruptEntries(t *testing.T) {
	upstream := &countingSource{cat: sampleCatalog()}
	store := NewMemoryStore(DefaultConfig())
	source := NewCatalogSource(upstream, store, "custom", 0, zerolog.Nop())
	ctx := context.Background()

	_ = store.Set(ctx, source.Key([]string{"Product"}), []byte("{not json"), 0)
	if _, err := source.Load(ctx, []string{"Product"}); err != nil {
		t.Fatalf("expected load to recover, got %v", err)
	}
	if upstream.calls != 1 {
		t.Fatalf("expected upstream load, got %d calls", upstream.calls)
	}
}

func TestCatalogSourcePropagatesUpstreamErrors(t *testing.T) {
	boom := errors.New("boom")
	source := NewCatalogSource(&countingSource{err: boom}, NewMemoryStore(DefaultConfig()), "custom", 0, zerolog.Nop())
	if _, err := source.Load(context.Background(), []string{"Product"}); !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
