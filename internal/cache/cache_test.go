package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func candleKey(token string, from, to int64) Key {
	return Key{Kind: KindCandles, Token: token, Interval: "1m", From: from, To: to}
}

func TestGetSet(t *testing.T) {
	c := New(4, time.Minute, nil)

	k := candleKey("Mint1", 0, 100)
	if _, ok := c.Get(k); ok {
		t.Fatal("empty cache should miss")
	}

	c.Set(k, "value")
	v, ok := c.Get(k)
	if !ok || v != "value" {
		t.Fatalf("Get = (%v, %v), want (value, true)", v, ok)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2, time.Minute, nil)

	k1 := candleKey("Mint1", 0, 100)
	k2 := candleKey("Mint2", 0, 100)
	k3 := candleKey("Mint3", 0, 100)

	c.Set(k1, 1)
	c.Set(k2, 2)

	// Touch k1 so k2 becomes the LRU victim.
	c.Get(k1)
	c.Set(k3, 3)

	if _, ok := c.Get(k2); ok {
		t.Error("k2 should have been evicted")
	}
	if _, ok := c.Get(k1); !ok {
		t.Error("recently used k1 should survive")
	}
	if _, ok := c.Get(k3); !ok {
		t.Error("k3 should be present")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(4, 50*time.Millisecond, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	k := candleKey("Mint1", 0, 100)
	c.Set(k, "value")

	now = now.Add(30 * time.Millisecond)
	if _, ok := c.Get(k); !ok {
		t.Fatal("entry should still be live")
	}

	now = now.Add(30 * time.Millisecond)
	if _, ok := c.Get(k); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped, len = %d", c.Len())
	}
}

func TestGetOrCompute_CachesResult(t *testing.T) {
	c := New(4, time.Minute, nil)
	k := candleKey("Mint1", 0, 100)

	var calls atomic.Int32
	compute := func(ctx context.Context) (interface{}, string, error) {
		calls.Add(1)
		return "computed", "fp-1", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute(context.Background(), k, compute)
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
		if v != "computed" {
			t.Fatalf("got %v, want computed", v)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}

	fp, ok := c.Fingerprint(k)
	if !ok || fp != "fp-1" {
		t.Errorf("Fingerprint = %q, %v; want fp-1, true", fp, ok)
	}
}

func TestFingerprint_TracksSourceData(t *testing.T) {
	c := New(4, time.Minute, nil)
	k := candleKey("Mint1", 0, 100)

	c.SetWithFingerprint(k, "v1", "fp-old")
	c.InvalidateToken("Mint1")

	if _, ok := c.Fingerprint(k); ok {
		t.Fatal("fingerprint should be gone after invalidation")
	}

	v, err := c.GetOrCompute(context.Background(), k, func(ctx context.Context) (interface{}, string, error) {
		return "v2", "fp-new", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if v != "v2" {
		t.Fatalf("got %v, want v2", v)
	}
	if fp, ok := c.Fingerprint(k); !ok || fp != "fp-new" {
		t.Errorf("Fingerprint = %q, %v; want fp-new, true", fp, ok)
	}
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c := New(4, time.Minute, nil)
	k := candleKey("Mint1", 0, 100)

	boom := errors.New("upstream down")
	var calls atomic.Int32

	for i := 0; i < 2; i++ {
		_, err := c.GetOrCompute(context.Background(), k, func(ctx context.Context) (interface{}, string, error) {
			calls.Add(1)
			return nil, "", boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("failed compute should rerun, got %d calls", got)
	}
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c := New(4, time.Minute, nil)
	k := candleKey("Mint1", 0, 100)

	var calls atomic.Int32
	gate := make(chan struct{})

	compute := func(ctx context.Context) (interface{}, string, error) {
		calls.Add(1)
		<-gate
		return "shared", "fp-shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]interface{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), k, compute)
			if err != nil {
				t.Errorf("GetOrCompute failed: %v", err)
				return
			}
			results[i] = v
		}()
	}

	// Let the goroutines pile onto the flight before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("compute ran %d times under concurrency, want 1", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("worker %d got %v, want shared", i, v)
		}
	}
}

func TestInvalidateToken(t *testing.T) {
	c := New(8, time.Minute, nil)

	c.Set(candleKey("Mint1", 0, 100), 1)
	c.Set(candleKey("Mint1", 100, 200), 2)
	c.Set(candleKey("Mint2", 0, 100), 3)
	c.Set(Key{Kind: KindPnL, Wallet: "WalletA", Token: "Mint1"}, 4)

	removed := c.InvalidateToken("Mint1")
	if removed != 3 {
		t.Errorf("removed %d entries, want 3", removed)
	}
	if _, ok := c.Get(candleKey("Mint2", 0, 100)); !ok {
		t.Error("other token's entries must survive")
	}
}

func TestInvalidateWallet(t *testing.T) {
	c := New(8, time.Minute, nil)

	c.Set(Key{Kind: KindPnL, Wallet: "WalletA", Token: "Mint1"}, 1)
	c.Set(Key{Kind: KindPnL, Wallet: "WalletB", Token: "Mint1"}, 2)

	if removed := c.InvalidateWallet("WalletA"); removed != 1 {
		t.Errorf("removed %d entries, want 1", removed)
	}
	if _, ok := c.Get(Key{Kind: KindPnL, Wallet: "WalletB", Token: "Mint1"}); !ok {
		t.Error("other wallet's entry must survive")
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(Key{Kind: KindCandles, Token: "Mint1"}); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := ValidateKey(Key{Token: "Mint1"}); err == nil {
		t.Error("key without kind should be rejected")
	}
	if err := ValidateKey(Key{Kind: KindPnL}); err == nil {
		t.Error("key without token or wallet should be rejected")
	}
}
