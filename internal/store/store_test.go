package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bridge:")
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func stores(t *testing.T) map[string]Store {
	st, _ := newRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  st,
	}
}

func TestStoreProcessed(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.Processed(ctx, "m1"); err != nil || ok {
				t.Fatalf("Processed before mark = %v, %v", ok, err)
			}
			if err := st.MarkProcessed(ctx, "m1", `{"allow":false}`, time.Hour); err != nil {
				t.Fatalf("MarkProcessed: %v", err)
			}
			reply, ok, err := st.Processed(ctx, "m1")
			if err != nil || !ok || reply != `{"allow":false}` {
				t.Errorf("Processed = %q, %v, %v", reply, ok, err)
			}
		})
	}
}

func TestStoreAckStatus(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if s, err := st.AckStatus(ctx, "m1"); err != nil || s != "" {
				t.Fatalf("AckStatus before set = %q, %v", s, err)
			}
			if err := st.SetAckStatus(ctx, "m1", "timeout", time.Hour); err != nil {
				t.Fatalf("SetAckStatus: %v", err)
			}
			if s, _ := st.AckStatus(ctx, "m1"); s != "timeout" {
				t.Errorf("AckStatus = %q, want timeout", s)
			}
		})
	}
}

func TestStoreGroupOwner(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.SetGroupOwner(ctx, "menuAction.1", "app-a"); err != nil {
				t.Fatalf("SetGroupOwner: %v", err)
			}
			if owner, _ := st.GetGroupOwner(ctx, "menuAction.1"); owner != "app-a" {
				t.Errorf("owner = %q, want app-a", owner)
			}
			if err := st.DeleteGroupOwner(ctx, "menuAction.1"); err != nil {
				t.Fatalf("DeleteGroupOwner: %v", err)
			}
			if owner, err := st.GetGroupOwner(ctx, "menuAction.1"); err != nil || owner != "" {
				t.Errorf("owner after delete = %q, %v", owner, err)
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.MarkProcessed(ctx, "m1", "r", -time.Second)
	if _, ok, _ := st.Processed(ctx, "m1"); ok {
		t.Error("expired entry still reported processed")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedis(t)
	_ = st.MarkProcessed(ctx, "m1", "r", time.Minute)
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := st.Processed(ctx, "m1"); ok {
		t.Error("expired entry still reported processed")
	}
	if mr.Exists("bridge:processed:m1") {
		t.Error("key not expired in redis")
	}
}
