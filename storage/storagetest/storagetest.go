// Package storagetest provides a conformance suite that every storage.Storage
// backend runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-router-go/storage"
	"github.com/google/go-cmp/cmp"
)

// Run exercises s against the storage.Storage contract. expire moves the
// backend's clock past d (a sleep for real clocks, FastForward for fakes).
func Run(t *testing.T, s storage.Storage, expire func(d time.Duration)) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s, expire) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s) })
	t.Run("InvalidOptions", func(t *testing.T) { testInvalidOptions(t, s) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte("test data")

	if err := s.Set(ctx, "test-key", data); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	item, err := s.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != string(data) {
		t.Fatalf("Get() returned wrong data: got %s, want %s", item.Data, data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt should be set")
	}
	if item.ExpiresAt != nil {
		t.Fatal("ExpiresAt should be nil without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "non-existent-key")
	if err != nil {
		t.Fatalf("Get() should not return error for non-existent key: %v", err)
	}
	if item != nil {
		t.Fatal("Get() should return nil for non-existent key")
	}
}

func testTTL(t *testing.T, s storage.Storage, expire func(time.Duration)) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "ttl-key", []byte("ttl-data"), storage.WithTTL(ttl), storage.WithNamespace("ttl")); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}

	item, err := s.Get(ctx, "ttl-key", storage.WithNamespace("ttl"))
	if err != nil || item == nil {
		t.Fatalf("Get() before expiration: item=%v err=%v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should be set with TTL")
	}

	expire(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "ttl-key", storage.WithNamespace("ttl"))
	if err != nil {
		t.Fatalf("Get() failed after expiration: %v", err)
	}
	if item != nil {
		t.Fatal("Get() returned non-nil item after expiration")
	}

	keys, err := s.Keys(ctx, storage.WithNamespace("ttl"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expired key still listed: %v", keys)
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "shared-key"

	values := map[string]string{"": "global-data", "alpha": "alpha-data", "beta": "beta-data"}
	for ns, v := range values {
		if err := s.Set(ctx, key, []byte(v), storage.WithNamespace(ns)); err != nil {
			t.Fatalf("Set() in %q failed: %v", ns, err)
		}
	}
	for ns, want := range values {
		item, err := s.Get(ctx, key, storage.WithNamespace(ns))
		if err != nil || item == nil || string(item.Data) != want {
			t.Fatalf("namespace %q not isolated: item=%v err=%v", ns, item, err)
		}
	}
}

func testKeys(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, k := range []string{"zeta", "alpha", "mid*glob"} {
		if err := s.Set(ctx, k, []byte(k), storage.WithNamespace("listing")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "other", []byte("x"), storage.WithNamespace("listing2")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	keys, err := s.Keys(ctx, storage.WithNamespace("listing"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid*glob", "zeta"}, keys); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}

	keys, err = s.Keys(ctx, storage.WithNamespace("empty"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithNamespace("deletes")

	if err := s.Set(ctx, "test-key", []byte("test-data"), ns); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, ns, storage.WithKey("test-key")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	item, err := s.Get(ctx, "test-key", ns)
	if err != nil {
		t.Fatalf("Get() failed after deletion: %v", err)
	}
	if item != nil {
		t.Fatal("Data should not exist after deletion")
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, ns, storage.WithKey("test-key")); err != nil {
		t.Fatalf("Delete() of missing key failed: %v", err)
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithNamespace("wipe")

	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data-"+key), ns); err != nil {
			t.Fatalf("Set() failed for %s: %v", key, err)
		}
	}
	if err := s.Set(ctx, "survivor", []byte("x"), storage.WithNamespace("wipe2")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, ns); err != nil {
		t.Fatalf("Delete() namespace failed: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, ns)
		if err != nil {
			t.Fatalf("Get() failed after namespace deletion: %v", err)
		}
		if item != nil {
			t.Fatalf("Key %s should not exist after namespace deletion", key)
		}
	}
	if item, err := s.Get(ctx, "survivor", storage.WithNamespace("wipe2")); err != nil || item == nil {
		t.Fatalf("sibling namespace affected: item=%v err=%v", item, err)
	}
}

func testInvalidOptions(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	if err := s.Delete(ctx); !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("deleting the global namespace: got %v, want ErrInvalidOptions", err)
	}
	if err := s.Set(ctx, "k", nil, storage.WithNamespace("a:b")); !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("namespace with ':': got %v, want ErrInvalidOptions", err)
	}
	if err := s.Set(ctx, "", []byte("x")); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("empty key: got %v, want ErrInvalidKey", err)
	}
}
