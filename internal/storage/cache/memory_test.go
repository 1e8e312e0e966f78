package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"sop-platform/pkg/config"
)

func TestMemoryStore_Set_Get_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, "k1", map[string]string{"id": "acct-1"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v map[string]string
	if err := s.Get(ctx, "k1", &v); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v["id"] != "acct-1" {
		t.Errorf("Get: got %v", v)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Get(ctx, "k1", &v); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete: err = %v, want ErrMiss", err)
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", 1, time.Minute)
	_ = s.Set(ctx, "forever", 2, 0)

	if ok, _ := s.Exists(ctx, "short"); !ok {
		t.Fatal("short should exist before expiry")
	}
	now = now.Add(2 * time.Minute)
	var n int
	if err := s.Get(ctx, "short", &n); !errors.Is(err, ErrMiss) {
		t.Errorf("expired key: err = %v, want ErrMiss", err)
	}
	if err := s.Get(ctx, "forever", &n); err != nil || n != 2 {
		t.Errorf("forever: n=%d err=%v", n, err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "resolve:account:a", 1, 0)
	_ = s.Set(ctx, "resolve:account:b", 2, 0)
	_ = s.Set(ctx, "resolve:project:a", 3, 0)

	if err := s.DeletePrefix(ctx, "resolve:account:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if ok, _ := s.Exists(ctx, "resolve:account:a"); ok {
		t.Error("resolve:account:a should be gone")
	}
	if ok, _ := s.Exists(ctx, "resolve:project:a"); !ok {
		t.Error("resolve:project:a should remain")
	}
}

func TestNewCache(t *testing.T) {
	s, err := NewCache(config.CacheConfig{})
	if err != nil || s == nil {
		t.Fatalf("default cache: %v", err)
	}
	if _, err := NewCache(config.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("unknown type should error")
	}
}

// 需要本地 Redis：SOP_TEST_REDIS_ADDR=localhost:6379
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SOP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SOP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(RedisOptions{Addr: addr, KeyPrefix: "soptest:" + time.Now().Format("150405.000") + ":"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	defer s.DeletePrefix(ctx, "")

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v string
	if err := s.Get(ctx, "k", &v); err != nil || v != "v" {
		t.Fatalf("Get: %q %v", v, err)
	}
	if err := s.Get(ctx, "missing", &v); !errors.Is(err, ErrMiss) {
		t.Errorf("missing: err = %v", err)
	}
}
