package dedup

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "hash-a", []float32{0.1, 0.2}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Put(ctx, "hash-b", []float32{0.3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := cache.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("All returned %d entries, want 2", len(all))
	}
	if !reflect.DeepEqual(all["hash-a"], []float32{0.1, 0.2}) {
		t.Fatalf("hash-a = %v", all["hash-a"])
	}
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "good", []float32{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.client.HSet(ctx, cache.key, "bad", "not-json").Err(); err != nil {
		t.Fatalf("plant corrupt entry: %v", err)
	}

	all, err := cache.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if _, ok := all["bad"]; ok {
		t.Fatal("corrupt entry returned")
	}
	if _, ok := all["good"]; !ok {
		t.Fatal("good entry lost")
	}
	// The corrupt field is deleted so the note is re-embedded next scan.
	exists, err := cache.client.HExists(ctx, cache.key, "bad").Result()
	if err != nil {
		t.Fatalf("HExists: %v", err)
	}
	if exists {
		t.Fatal("corrupt field not pruned")
	}
}

func TestRedisCacheRemove(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		if err := cache.Put(ctx, h, []float32{1}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := cache.Remove(ctx, []string{"a", "c"}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := cache.Remove(ctx, nil); err != nil {
		t.Fatalf("Remove(nil): %v", err)
	}

	all, err := cache.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("entries after remove = %d, want 1", len(all))
	}
	if _, ok := all["b"]; !ok {
		t.Fatal("surviving entry missing")
	}
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-url"); err == nil {
		t.Fatal("NewRedisCache accepted a malformed URL")
	}
}
