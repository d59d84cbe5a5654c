package notifier

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time         { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func limiterAt(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	c := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: limit, Window: window, Enabled: true})
	r.now = c.Now
	return r, c
}

func reserveN(t *testing.T, r *RateLimiter, n int) []*Reservation {
	t.Helper()
	out := make([]*Reservation, 0, n)
	for i := 0; i < n; i++ {
		res, ok := r.Reserve()
		if !ok {
			t.Fatalf("reservation %d refused", i+1)
		}
		out = append(out, res)
	}
	return out
}

func TestReserveUntilWindowFull(t *testing.T) {
	r, _ := limiterAt(3, time.Minute)
	reserveN(t, r, 3)

	if res, ok := r.Reserve(); ok || res != nil {
		t.Fatalf("fourth reservation granted, want refusal")
	}
	stats := r.Stats()
	if stats.InWindow != 3 || stats.Dropped != 1 {
		t.Errorf("in window = %d, dropped = %d; want 3, 1", stats.InWindow, stats.Dropped)
	}
}

func TestSlotsLeaveWindow(t *testing.T) {
	r, c := limiterAt(2, time.Minute)
	reserveN(t, r, 1)
	c.Advance(40 * time.Second)
	reserveN(t, r, 1)

	c.Advance(30 * time.Second)
	if r.Stats().InWindow != 1 {
		t.Fatalf("first slot should have expired")
	}
	reserveN(t, r, 1)
	if _, ok := r.Reserve(); ok {
		t.Error("window should be full again")
	}
}

func TestSettleRefundsOnlyWhenNothingDelivered(t *testing.T) {
	tests := []struct {
		name      string
		delivered int
		inWindow  int
		refunded  int64
	}{
		{"all channels failed", 0, 0, 1},
		{"one channel delivered", 1, 1, 0},
		{"every channel delivered", 3, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := limiterAt(5, time.Minute)
			res := reserveN(t, r, 1)[0]
			res.Settle(tt.delivered)
			res.Settle(0)

			stats := r.Stats()
			if stats.InWindow != tt.inWindow || stats.Refunded != tt.refunded {
				t.Errorf("in window = %d, refunded = %d; want %d, %d",
					stats.InWindow, stats.Refunded, tt.inWindow, tt.refunded)
			}
		})
	}
}

func TestSettleReturnsItsOwnSlot(t *testing.T) {
	r, c := limiterAt(2, time.Minute)
	first := reserveN(t, r, 1)[0]
	c.Advance(50 * time.Second)
	second := reserveN(t, r, 1)[0]

	// The older dispatch failed; the newer one keeps its slot, so the
	// window frees up when the newer slot expires, not earlier.
	first.Settle(0)
	second.Settle(1)

	c.Advance(20 * time.Second)
	if got := r.Stats().InWindow; got != 1 {
		t.Fatalf("in window = %d, want 1", got)
	}
	c.Advance(45 * time.Second)
	if got := r.Stats().InWindow; got != 0 {
		t.Errorf("in window = %d, want 0", got)
	}
}

func TestDisabledLimiterNeverRefuses(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute})
	for i := 0; i < 5; i++ {
		res, ok := r.Reserve()
		if !ok || res == nil {
			t.Fatalf("reservation %d refused by disabled limiter", i+1)
		}
		res.Settle(0)
	}
	stats := r.Stats()
	if stats.Enabled || stats.InWindow != 0 || stats.Dropped != 0 || stats.Refunded != 0 {
		t.Errorf("stats = %+v, want an idle disabled limiter", stats)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	def := DefaultRateLimitConfig()
	if def.MaxPerWindow != 10 || def.Window != time.Minute || !def.Enabled {
		t.Errorf("DefaultRateLimitConfig() = %+v", def)
	}

	stats := NewRateLimiter(RateLimitConfig{Enabled: true}).Stats()
	if stats.MaxPerWindow != 10 || stats.Window != time.Minute {
		t.Errorf("zero config should fall back to defaults, got %+v", stats)
	}
}

func TestReserveConcurrent(t *testing.T) {
	r, _ := limiterAt(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, ok := r.Reserve(); ok {
				res.Settle(1)
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	if granted != 50 || stats.Dropped != 50 {
		t.Errorf("granted = %d, dropped = %d; want 50, 50", granted, stats.Dropped)
	}
}
