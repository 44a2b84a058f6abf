package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucket(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	bucket := newBucket(2, 5, clk.Now) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	// Next request should be denied (bucket empty)
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	clk.Advance(1100 * time.Millisecond)

	// Should have 2 tokens available now
	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}

	// Third request should be denied
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}

	// Refill never exceeds capacity.
	clk.Advance(time.Hour)
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected request %d to be allowed after long idle", i)
		}
	}
	if bucket.Allow() {
		t.Error("Expected capacity to cap refill")
	}
}

func TestLimiterPerKey(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiter(1, 3)
	l.now = clk.Now

	ip := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !l.Allow(ip) {
			t.Errorf("Expected attempt %d to be allowed for %s", i, ip)
		}
	}
	if l.Allow(ip) {
		t.Error("Expected attempt to be denied after burst")
	}

	// Different key should have separate limits
	if !l.Allow("10.0.0.2") {
		t.Error("Expected attempt to be allowed for different key")
	}
	if l.Len() != 2 {
		t.Errorf("Expected 2 tracked keys, got %d", l.Len())
	}

	clk.Advance(10 * time.Second)
	if n := l.Prune(); n != 2 {
		t.Errorf("Expected 2 pruned keys, got %d", n)
	}
	if l.Len() != 0 {
		t.Errorf("Expected no keys after prune, got %d", l.Len())
	}
}

func TestDisabledLimiter(t *testing.T) {
	l := NewLimiter(0, 10)
	if l != nil {
		t.Fatal("Expected nil limiter for zero rate")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("any") {
			t.Fatal("nil limiter must allow everything")
		}
	}
	if l.Prune() != 0 || l.Len() != 0 {
		t.Error("nil limiter should report no state")
	}
}
