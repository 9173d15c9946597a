package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/store"
)

func TestKey(t *testing.T) {
	if k := key(42); k != "gps:latest:42" {
		t.Errorf("key %s", k)
	}
}

func TestMemoryKeepsNewest(t *testing.T) {
	m := NewMemory()
	if _, err := m.Latest(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	t0 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	a := position.New("its", 1, "x")
	a.DeviceTime = t0.Add(time.Minute)
	b := position.New("its", 1, "x")
	b.DeviceTime = t0
	m.Put(a)
	m.Put(b)
	got, err := m.Latest(context.Background(), 1)
	if err != nil || got != a {
		t.Errorf("expected the newest position, got %v %v", got, err)
	}
}

func TestRedisPutDoesNotBlock(t *testing.T) {
	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), time.Hour)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			c.Put(position.New("its", 1, "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Put blocked")
	}
}

var _ Latest = (*Redis)(nil)
var _ Latest = (*Memory)(nil)
