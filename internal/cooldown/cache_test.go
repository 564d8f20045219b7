package cooldown

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)

func TestKeyString(t *testing.T) {
	if got := (Key{DeviceID: "esp-1", SensorType: "temperature"}).String(); got != "esp-1_temperature" {
		t.Errorf("got %q", got)
	}
	if got := (Key{DeviceID: "esp-1", SensorType: "temperature", RuleID: "c1"}).String(); got != "esp-1_temperature_c1" {
		t.Errorf("got %q", got)
	}
}

func TestMemoryCacheWindow(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := Key{DeviceID: "esp-1", SensorType: "temperature"}

	ok, _ := c.Acquire(ctx, key, t0, DefaultWindow)
	if !ok {
		t.Fatal("first trigger suppressed")
	}
	ok, _ = c.Acquire(ctx, key, t0.Add(2*time.Minute), DefaultWindow)
	if ok {
		t.Fatal("trigger 2 minutes later accepted inside a 5 minute window")
	}
	last, found, _ := c.Last(ctx, key)
	if !found || !last.Equal(t0) {
		t.Errorf("suppressed trigger moved last time to %v", last)
	}
	ok, _ = c.Acquire(ctx, key, t0.Add(5*time.Minute), DefaultWindow)
	if ok {
		t.Fatal("trigger at exactly the window boundary accepted")
	}
	ok, _ = c.Acquire(ctx, key, t0.Add(5*time.Minute+time.Millisecond), DefaultWindow)
	if !ok {
		t.Fatal("trigger after the window suppressed")
	}

	other := Key{DeviceID: "esp-1", SensorType: "humidity"}
	if ok, _ := c.Acquire(ctx, other, t0.Add(5*time.Minute), DefaultWindow); !ok {
		t.Error("independent key suppressed")
	}
}

func TestMemoryCacheConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := Key{DeviceID: "esp-1", SensorType: "soil_moisture"}

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.Acquire(ctx, key, t0, DefaultWindow); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := accepted.Load(); n != 1 {
		t.Errorf("accepted %d concurrent triggers, want 1", n)
	}
}

func TestMemoryCachePrunesStaleEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	for i := 0; i < pruneEvery-1; i++ {
		c.Acquire(ctx, Key{DeviceID: "d", SensorType: "s", RuleID: strconv.Itoa(i)}, t0, time.Minute)
	}
	c.Acquire(ctx, Key{DeviceID: "late", SensorType: "s"}, t0.Add(time.Hour), time.Minute)
	if n := c.Len(); n != 1 {
		t.Errorf("Len after prune = %d, want 1", n)
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client)
	key := Key{DeviceID: "esp-2", SensorType: "temperature", RuleID: "cond-1"}

	ok, err := c.Acquire(ctx, key, t0, DefaultWindow)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	ok, err = c.Acquire(ctx, key, t0.Add(2*time.Minute), DefaultWindow)
	if err != nil || ok {
		t.Fatalf("second Acquire = %v, %v", ok, err)
	}

	last, found, err := c.Last(ctx, key)
	if err != nil || !found || !last.Equal(t0) {
		t.Fatalf("Last = %v, %v, %v", last, found, err)
	}

	mr.FastForward(DefaultWindow)
	ok, err = c.Acquire(ctx, key, t0.Add(DefaultWindow), DefaultWindow)
	if err != nil || ok {
		t.Fatalf("Acquire at the window boundary = %v, %v", ok, err)
	}

	mr.FastForward(time.Millisecond)
	ok, err = c.Acquire(ctx, key, t0.Add(DefaultWindow+time.Millisecond), DefaultWindow)
	if err != nil || !ok {
		t.Fatalf("Acquire after window = %v, %v", ok, err)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Last(ctx, key); found {
		t.Error("entry survived Reset")
	}
}

func TestRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisCache(client).Acquire(context.Background(), Key{DeviceID: "x", SensorType: "y"}, t0, DefaultWindow)
	if err == nil {
		t.Fatal("expected error with redis down")
	}
}
