package modelinfo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetMaxInputTokensDefaultsWhenUnknown(t *testing.T) {
	c := NewCache(time.Hour, 200000)
	if got := c.GetMaxInputTokens("nope"); got != 200000 {
		t.Fatalf("expected default 200000, got %d", got)
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	c := NewCache(time.Hour, 200000)
	c.Update([]Info{{ID: "a", MaxInputTokens: 1000}})
	if info, ok := c.Get("a"); !ok || info.MaxInputTokens != 1000 {
		t.Fatalf("expected updated record, got %+v ok=%v", info, ok)
	}
}

func TestIsStaleByTTL(t *testing.T) {
	c := NewCache(10*time.Millisecond, 200000)
	c.Update([]Info{{ID: "a"}})
	if c.IsStale() {
		t.Fatal("should not be stale immediately after update")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.IsStale() {
		t.Fatal("should be stale after TTL elapses")
	}
}

func TestEnsureFreshCoalescesConcurrentRefills(t *testing.T) {
	c := NewCache(time.Hour, 200000)
	var calls int32

	refill := func(ctx context.Context) ([]Info, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []Info{{ID: "claude-sonnet-4.5", MaxInputTokens: 200000}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnsureFresh(context.Background(), refill)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 refill call, got %d", got)
	}
	if c.IsEmpty() {
		t.Fatal("cache should be populated after refill")
	}
}

func TestEnsureFreshFallsBackOnFailureWhenEmpty(t *testing.T) {
	c := NewCache(time.Hour, 200000)
	refill := func(ctx context.Context) ([]Info, error) {
		return nil, errors.New("upstream down")
	}
	c.EnsureFresh(context.Background(), refill)

	if c.IsEmpty() {
		t.Fatal("expected static fallback to populate the cache")
	}
	if !c.IsStale() {
		t.Fatal("expected cache to be marked stale after failed refill")
	}
}
