package executor

import (
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// pendingJoin holds whichever half of a request/decision pair arrived first.
type pendingJoin struct {
	req       *domain.TradeRequest
	dec       *domain.RiskDecision
	firstSeen time.Time
}

// joinBook pairs trade requests with risk decisions by request id. The two
// topics carry no relative ordering, so either side may arrive first. It is
// owned by the executor's loop goroutine.
type joinBook struct {
	pending map[string]*pendingJoin
	ttl     time.Duration
}

func newJoinBook(ttl time.Duration) *joinBook {
	return &joinBook{pending: make(map[string]*pendingJoin), ttl: ttl}
}

// addRequest records req and returns the completed pair when its decision is
// already waiting.
func (j *joinBook) addRequest(req domain.TradeRequest, now time.Time) (*domain.TradeRequest, *domain.RiskDecision, bool) {
	p := j.entry(req.ID, now)
	p.req = &req
	return j.complete(req.ID, p)
}

// addDecision records dec and returns the completed pair when its request is
// already waiting.
func (j *joinBook) addDecision(dec domain.RiskDecision, now time.Time) (*domain.TradeRequest, *domain.RiskDecision, bool) {
	p := j.entry(dec.RequestID, now)
	p.dec = &dec
	return j.complete(dec.RequestID, p)
}

func (j *joinBook) entry(id string, now time.Time) *pendingJoin {
	p, ok := j.pending[id]
	if !ok {
		p = &pendingJoin{firstSeen: now}
		j.pending[id] = p
	}
	return p
}

func (j *joinBook) complete(id string, p *pendingJoin) (*domain.TradeRequest, *domain.RiskDecision, bool) {
	if p.req == nil || p.dec == nil {
		return nil, nil, false
	}
	delete(j.pending, id)
	return p.req, p.dec, true
}

// expire removes halves older than the TTL and returns them.
func (j *joinBook) expire(now time.Time) []pendingJoin {
	var out []pendingJoin
	for id, p := range j.pending {
		if now.Sub(p.firstSeen) >= j.ttl {
			out = append(out, *p)
			delete(j.pending, id)
		}
	}
	return out
}

func (j *joinBook) len() int { return len(j.pending) }
