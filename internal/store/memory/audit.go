package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// AuditLog retains the most recent audit entries up to a capacity.
type AuditLog struct {
	mu      sync.RWMutex
	cap     int
	nextID  int64
	entries []domain.AuditEntry // oldest first
	now     func() time.Time
}

// NewAuditLog creates an AuditLog holding at most capacity entries.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AuditLog{cap: capacity, now: time.Now}
}

// Log appends an entry, evicting the oldest when full.
func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        a.nextID,
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: a.now().UTC(),
	})
	if over := len(a.entries) - a.cap; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
	return nil
}

// List returns entries newest first. ListOpts.Strategy filters by event.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	skipped := 0
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if opts.Strategy != "" && e.Event != opts.Strategy {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

var _ domain.AuditLog = (*AuditLog)(nil)
