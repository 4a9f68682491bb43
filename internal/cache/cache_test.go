package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	url := os.Getenv("PORTWAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PORTWAY_TEST_REDIS_URL not set; skipping cache integration test")
	}
	c, err := New(url, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name string
		Port int
	}
	want := payload{Name: "acme-api", Port: 80}

	if err := c.Set(ctx, "test:roundtrip", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	ok, err := c.Get(ctx, "test:roundtrip", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != want {
		t.Errorf("Get = %+v, %v; want %+v, true", got, ok, want)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	var dest string
	ok, err := c.Get(ctx, "test:does-not-exist", &dest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected a miss for an unset key")
	}
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "test:invalidate", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Invalidate(ctx, "test:invalidate"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	var dest string
	ok, _ := c.Get(ctx, "test:invalidate", &dest)
	if ok {
		t.Error("expected key to be gone after Invalidate")
	}
}

func TestDomainKeyAndProjectKey(t *testing.T) {
	if DomainKey("acme-api") != "domain:acme-api" {
		t.Errorf("DomainKey = %q", DomainKey("acme-api"))
	}
	if ProjectKey("acme", "api") != "project:acme/api" {
		t.Errorf("ProjectKey = %q", ProjectKey("acme", "api"))
	}
}
