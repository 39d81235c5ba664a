package scanner

import "time"

// cooldown suppresses repeat emissions for the same key within a window.
type cooldown struct {
	window   time.Duration
	lastEmit map[string]time.Time
}

func newCooldown(window time.Duration) *cooldown {
	return &cooldown{window: window, lastEmit: make(map[string]time.Time)}
}

func (c *cooldown) recentlyEmitted(key string, now time.Time) bool {
	last, ok := c.lastEmit[key]
	return ok && now.Sub(last) < c.window
}

func (c *cooldown) markEmitted(key string, now time.Time) {
	c.lastEmit[key] = now
}

// prune drops entries whose window has elapsed.
func (c *cooldown) prune(now time.Time) {
	for k, t := range c.lastEmit {
		if now.Sub(t) >= c.window {
			delete(c.lastEmit, k)
		}
	}
}
