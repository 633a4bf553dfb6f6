package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewRedis("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRedis(t *testing.T) {
	c, _ := setupTestRedis(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not a url", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPutAndGet(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Put(ctx, "cfg-1", "4.0.0", []byte(`{"version":"4.0.0"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, "cfg-1", "3.1.0", []byte(`{"version":"3.1.0"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, ok, err := c.Get(ctx, "cfg-1", "4.0.0")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"version":"4.0.0"}` {
		t.Errorf("unexpected cached data %s", data)
	}
	data, ok, _ = c.Get(ctx, "cfg-1", "3.1.0")
	if !ok || string(data) != `{"version":"3.1.0"}` {
		t.Errorf("versions should be cached side by side, got %s", data)
	}

	if _, ok, err := c.Get(ctx, "cfg-1", "2.0.0"); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.Get(ctx, "other", "4.0.0"); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	if err := c.Put(ctx, "cfg-1", "4.0.0", []byte(`{}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ttl := s.TTL("cfg:cfg-1"); ttl != time.Minute {
		t.Fatalf("expected a one minute TTL, got %s", ttl)
	}
	s.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "cfg-1", "4.0.0"); ok {
		t.Error("expected expired entry to be gone")
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_ = c.Put(ctx, "cfg-1", "4.0.0", []byte(`{}`))
	_ = c.Put(ctx, "cfg-1", "3.1.0", []byte(`{}`))
	if err := c.Invalidate(ctx, "cfg-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	for _, v := range []string{"4.0.0", "3.1.0"} {
		if _, ok, _ := c.Get(ctx, "cfg-1", v); ok {
			t.Errorf("version %s should be invalidated", v)
		}
	}
	if err := c.Invalidate(ctx, "never-cached"); err != nil {
		t.Errorf("invalidating a missing key should succeed: %v", err)
	}
}

func TestDefaultTTL(t *testing.T) {
	s := miniredis.RunT(t)
	c, err := NewRedis("redis://"+s.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer c.Close()
	if c.ttl != DefaultTTL {
		t.Fatalf("expected default TTL, got %s", c.ttl)
	}
}
