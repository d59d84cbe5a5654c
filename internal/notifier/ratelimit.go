package notifier

import (
	"sync"
	"time"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"` // default: 10
	Window       time.Duration `yaml:"window"`         // default: 1 minute
	Enabled      bool          `yaml:"enabled"`
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

type slot struct {
	at  time.Time
	seq uint64
}

// RateLimiter caps alert dispatches within a sliding window. A dispatch
// reserves one slot however many channels it fans out to, and gives the
// slot back when nothing was delivered.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	enabled  bool
	slots    []slot
	seq      uint64
	dropped  int64
	refunded int64
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter. Non-positive limits fall back to
// the defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = defaults.MaxPerWindow
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	return &RateLimiter{
		limit:   config.MaxPerWindow,
		window:  config.Window,
		enabled: config.Enabled,
		now:     time.Now,
	}
}

// Reservation is the slot held by one dispatch.
type Reservation struct {
	limiter *RateLimiter
	seq     uint64
	done    bool
}

// Reserve takes a slot for one dispatch. It returns false, counting a drop,
// when the window is full. A disabled limiter always grants a reservation
// that holds no slot.
func (r *RateLimiter) Reserve() (*Reservation, bool) {
	if !r.enabled {
		return &Reservation{done: true}, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expire(now)
	if len(r.slots) >= r.limit {
		r.dropped++
		return nil, false
	}
	r.seq++
	r.slots = append(r.slots, slot{at: now, seq: r.seq})
	return &Reservation{limiter: r, seq: r.seq}, true
}

// Settle closes the reservation with the number of channels that accepted
// the alert. With none delivered the slot is returned to the window.
// Settling twice has no effect.
func (res *Reservation) Settle(delivered int) {
	if res == nil || res.done {
		return
	}
	res.done = true
	if delivered > 0 {
		return
	}

	r := res.limiter
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.slots {
		if s.seq == res.seq {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			r.refunded++
			return
		}
	}
}

// expire drops slots that left the window. Must be called with mutex held.
func (r *RateLimiter) expire(now time.Time) {
	cutoff := now.Add(-r.window)
	n := 0
	for n < len(r.slots) && r.slots[n].at.Before(cutoff) {
		n++
	}
	r.slots = r.slots[n:]
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64         // dispatches refused because the window was full
	Refunded     int64         // reservations returned after a failed dispatch
	InWindow     int           // slots held in the current window
	MaxPerWindow int           // slots allowed per window
	Window       time.Duration // window length
	Enabled      bool          // whether limiting is enabled
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expire(r.now())
	return RateLimitStats{
		Dropped:      r.dropped,
		Refunded:     r.refunded,
		InWindow:     len(r.slots),
		MaxPerWindow: r.limit,
		Window:       r.window,
		Enabled:      r.enabled,
	}
}
