package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestKeyBuilders(t *testing.T) {
	if got := AuthTokenKey(); got != "auth_token" {
		t.Fatalf("unexpected auth token key %s", got)
	}
	if got := CartSnapshotKey("user-1"); got != "cart_snapshot:user-1" {
		t.Fatalf("unexpected cart key %s", got)
	}
	if got := CartSnapshotKey(""); got != "cart_snapshot" {
		t.Fatalf("empty user id should skip the suffix, got %s", got)
	}
	if got := CatalogSnapshotKey(); got != "catalog_snapshot" {
		t.Fatalf("unexpected catalog key %s", got)
	}
}

func runStoreConformance(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}

	if err := s.Set(ctx, "auth_token", []byte(`"tok-1"`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := s.Get(ctx, "auth_token")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != `"tok-1"` {
		t.Fatalf("unexpected value %q", got)
	}

	// overwrite replaces wholesale
	if err := s.Set(ctx, "auth_token", []byte(`"tok-2"`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err = s.Get(ctx, "auth_token")
	if err != nil {
		t.Fatalf("get after overwrite failed: %v", err)
	}
	if string(got) != `"tok-2"` {
		t.Fatalf("expected overwritten value, got %q", got)
	}

	if err := s.Delete(ctx, "auth_token"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "auth_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// deleting an absent key is not an error
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete of absent key failed: %v", err)
	}
}

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, NewMemory())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	first, _ := s.Get(ctx, "k")
	first[0] = 'z'
	second, _ := s.Get(ctx, "k")
	if string(second) != "abc" {
		t.Fatalf("mutating a returned slice must not affect stored data, got %q", second)
	}
}

func TestSQLiteStoreConformance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront-test.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	runStoreConformance(t, s)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLite(""); err == nil {
		t.Fatal("expected missing path to fail")
	}
}
