package store

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/feedkit/core"
)

func TestMemoryStoreBasic(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k1")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k1"); !core.IsStoreNotFound(err) {
		t.Errorf("deleted key: err = %v, want store not found", err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "ephemeral", []byte("v"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "ephemeral"); err != nil {
		t.Fatalf("fresh key should be readable: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := m.Get(ctx, "ephemeral"); !core.IsStoreNotFound(err) {
		t.Errorf("expired key: err = %v, want store not found", err)
	}
}

func TestMemoryStoreBatch(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	if err := m.BatchSet(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}); err != nil {
		t.Fatal(err)
	}
	got, err := m.BatchGet(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Errorf("BatchGet = %v", got)
	}
}

func TestMemoryStoreInvalidatePattern(t *testing.T) {
	m := NewMemoryStore()
	defer m.Close()
	ctx := context.Background()

	for _, k := range []string{"feed:seen:u1", "feed:seen:u2", "feed:pref:u1", "other"} {
		if err := m.Set(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.InvalidatePattern(ctx, "feed:seen:*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if m.Len() != 2 {
		t.Errorf("remaining keys = %d, want 2", m.Len())
	}
	if _, err := m.Get(ctx, "feed:pref:u1"); err != nil {
		t.Errorf("unmatched key removed: %v", err)
	}
}
