package cache

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/tether"
)

func TestMemoryCacheHitMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(time.Minute))

	req := &tether.CheckRequest{
		UserID:       "u1",
		Permission:   "read",
		ResourceType: "document",
		ResourceID:   "d1",
	}

	// Miss
	_, ok := c.Get(ctx, "ns1", req)
	if ok {
		t.Fatal("expected cache miss")
	}

	// Set + Hit
	c.Set(ctx, "ns1", req, true)
	allowed, ok := c.Get(ctx, "ns1", req)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !allowed {
		t.Fatal("expected allowed")
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(1 * time.Millisecond))

	req := &tether.CheckRequest{
		UserID:       "u1",
		Permission:   "read",
		ResourceType: "document",
		ResourceID:   "d1",
	}

	c.Set(ctx, "ns1", req, true)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "ns1", req)
	if ok {
		t.Fatal("expected cache miss after TTL expiry")
	}
}

func TestMemoryCacheInvalidateNamespace(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	req1 := &tether.CheckRequest{
		UserID:       "u1",
		Permission:   "read",
		ResourceType: "doc",
		ResourceID:   "d1",
	}
	req2 := &tether.CheckRequest{
		UserID:       "u2",
		Permission:   "write",
		ResourceType: "doc",
		ResourceID:   "d2",
	}

	c.Set(ctx, "ns1", req1, true)
	c.Set(ctx, "ns1", req2, false)
	c.Set(ctx, "ns2", req1, true)

	c.InvalidateNamespace(ctx, "ns1")

	if _, ok := c.Get(ctx, "ns1", req1); ok {
		t.Fatal("ns1 req1 should be invalidated")
	}
	if _, ok := c.Get(ctx, "ns1", req2); ok {
		t.Fatal("ns1 req2 should be invalidated")
	}
	if _, ok := c.Get(ctx, "ns2", req1); !ok {
		t.Fatal("ns2 req1 should still be cached")
	}
}

func TestMemoryCacheNegativeResult(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	req := &tether.CheckRequest{
		UserID:       "u1",
		Permission:   "delete",
		ResourceType: "doc",
		ResourceID:   "d1",
	}

	c.Set(ctx, "ns1", req, false)
	allowed, ok := c.Get(ctx, "ns1", req)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if allowed {
		t.Fatal("expected denied outcome to be cached")
	}
}

func TestMemoryCacheMaxSize(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithMaxSize(2))

	for i := 0; i < 5; i++ {
		req := &tether.CheckRequest{
			UserID:       "u1",
			Permission:   "read",
			ResourceType: "doc",
			ResourceID:   string(rune('a' + i)),
		}
		c.Set(ctx, "ns1", req, true)
	}

	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	if size > 2 {
		t.Fatalf("expected max 2 entries, got %d", size)
	}
}
