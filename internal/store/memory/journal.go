// Package memory keeps a bounded in-process trade journal and audit log for
// runs without a database.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Journal retains the most recent results up to a capacity.
type Journal struct {
	mu      sync.RWMutex
	cap     int
	results []domain.TradeResult // oldest first
}

// NewJournal creates a Journal holding at most capacity results.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Journal{cap: capacity}
}

// Record appends res, evicting the oldest result when full.
func (j *Journal) Record(_ context.Context, res domain.TradeResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, res)
	if over := len(j.results) - j.cap; over > 0 {
		j.results = append(j.results[:0:0], j.results[over:]...)
	}
	return nil
}

// ListRecent returns results newest first.
func (j *Journal) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.TradeResult, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	skipped := 0
	var out []domain.TradeResult
	for i := len(j.results) - 1; i >= 0; i-- {
		r := j.results[i]
		if opts.Strategy != "" && r.Strategy != opts.Strategy {
			continue
		}
		if opts.Since != nil && r.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

var _ domain.TradeJournal = (*Journal)(nil)
