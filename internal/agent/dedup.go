package agent

import (
	"sync"
	"time"
)

// Dedup remembers message-level IDs for a TTL so redelivered messages are
// processed once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // id -> first seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an id as a duplicate for ttl after it
// was first seen.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (d *Dedup) WithClock(now func() time.Time) *Dedup {
	d.now = now
	return d
}

// IsDuplicate returns true if id has been seen within the TTL window.
// Otherwise it records id and returns false.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if firstSeen, ok := d.seen[id]; ok && now.Sub(firstSeen) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Seen reports whether id was recorded within the TTL without recording it.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	firstSeen, ok := d.seen[id]
	return ok && d.now().Sub(firstSeen) < d.ttl
}

// Cleanup removes expired entries. Runners call it once per cycle.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
