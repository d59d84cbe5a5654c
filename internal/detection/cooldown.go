package detection

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

// DefaultCooldownCeiling is the age after which cooldown entries are purged.
const DefaultCooldownCeiling = 24 * time.Hour

type cooldownKey struct {
	ruleID  string
	tool    models.Tool
	project string
}

// CooldownOptions configures a CooldownTracker.
type CooldownOptions struct {
	// Store persists entries across restarts. Nil keeps state in memory only.
	Store storage.CooldownRepository
	// Ceiling is the age after which entries are purged.
	Ceiling time.Duration
	// Now returns the current time.
	Now func() time.Time
}

// DefaultCooldownOptions returns default cooldown options.
func DefaultCooldownOptions() *CooldownOptions {
	return &CooldownOptions{
		Ceiling: DefaultCooldownCeiling,
		Now:     time.Now,
	}
}

// CooldownTracker records when a detection rule last fired for a
// (tool, project) pair. Memory is consulted first; on a miss the durable
// store, if any, is asked and the answer cached.
type CooldownTracker struct {
	mu      sync.Mutex
	entries map[cooldownKey]time.Time
	store   storage.CooldownRepository
	ceiling time.Duration
	now     func() time.Time
}

// NewCooldownTracker creates a tracker.
func NewCooldownTracker(opts *CooldownOptions) *CooldownTracker {
	if opts == nil {
		opts = DefaultCooldownOptions()
	}
	t := &CooldownTracker{
		entries: make(map[cooldownKey]time.Time),
		store:   opts.Store,
		ceiling: opts.Ceiling,
		now:     opts.Now,
	}
	if t.ceiling <= 0 {
		t.ceiling = DefaultCooldownCeiling
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// EnsureCeiling raises the purge ceiling to at least d so that entries for
// long cooldowns are not dropped before they expire.
func (t *CooldownTracker) EnsureCeiling(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > t.ceiling {
		t.ceiling = d
	}
}

// Record marks the rule as fired now for (tool, project), replacing any
// previous entry, and purges entries older than the ceiling.
func (t *CooldownTracker) Record(ctx context.Context, ruleID string, tool models.Tool, project string) {
	now := t.now()

	t.mu.Lock()
	t.entries[cooldownKey{ruleID, tool, project}] = now
	cutoff := now.Add(-t.ceiling)
	for k, at := range t.entries {
		if at.Before(cutoff) {
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if err := t.store.Record(ctx, ruleID, tool, project, now); err != nil {
		log.Printf("warning: persist cooldown for rule %s: %v", ruleID, err)
	}
	if _, err := t.store.DeleteBefore(ctx, cutoff); err != nil {
		log.Printf("warning: purge cooldowns: %v", err)
	}
}

// IsInCooldown reports whether the rule fired for (tool, project) less than
// cooldown ago. A non-positive cooldown is never active.
func (t *CooldownTracker) IsInCooldown(ctx context.Context, ruleID string, tool models.Tool, project string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	key := cooldownKey{ruleID, tool, project}
	now := t.now()

	t.mu.Lock()
	at, ok := t.entries[key]
	t.mu.Unlock()

	if !ok && t.store != nil {
		last, found, err := t.store.LastTriggered(ctx, ruleID, tool, project)
		if err != nil {
			log.Printf("warning: load cooldown for rule %s: %v", ruleID, err)
			return false
		}
		if !found {
			return false
		}
		at, ok = last, true
		t.mu.Lock()
		if cur, exists := t.entries[key]; !exists || cur.Before(last) {
			t.entries[key] = last
		}
		t.mu.Unlock()
	}
	if !ok {
		return false
	}
	return now.Sub(at) < cooldown
}

// Len returns the number of in-memory entries.
func (t *CooldownTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops all in-memory entries. Durable entries are kept.
func (t *CooldownTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[cooldownKey]time.Time)
}
