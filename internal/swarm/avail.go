package swarm

import (
	"sync"
	"time"
)

const defaultAvailabilityTTL = 10 * time.Minute

type ModelState string

const (
	ModelAvailable ModelState = "available"
	ModelNotFound  ModelState = "not_found"
)

type availEntry struct {
	state ModelState
	at    time.Time
}

// AvailabilityCache remembers which model ids a backend recently reported as
// missing so the executor can skip straight to an alternate without a network
// call. Entries expire after a fixed TTL. The cache is injected into the
// executor and safe for concurrent use.
type AvailabilityCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]availEntry
	now     func() time.Time
}

func NewAvailabilityCache(ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &AvailabilityCache{
		ttl:     ttl,
		entries: make(map[string]availEntry),
		now:     time.Now,
	}
}

func (c *AvailabilityCache) MarkAvailable(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model] = availEntry{state: ModelAvailable, at: c.now()}
}

func (c *AvailabilityCache) MarkNotFound(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model] = availEntry{state: ModelNotFound, at: c.now()}
}

// NotFound reports whether the model has a fresh not_found observation.
func (c *AvailabilityCache) NotFound(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[model]
	if !ok {
		return false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, model)
		return false
	}
	return e.state == ModelNotFound
}

// State returns the cached state of a model, if fresh.
func (c *AvailabilityCache) State(model string) (ModelState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[model]
	if !ok || c.now().Sub(e.at) > c.ttl {
		return "", false
	}
	return e.state, true
}
