package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

type reservation struct {
	marketID string
	venue    string
	amount   decimal.Decimal
}

// exposure is the guardian-owned book of reserved capital and realized P&L.
type exposure struct {
	byMarket map[string]decimal.Decimal
	byVenue  map[string]decimal.Decimal
	reserved map[string]reservation // request id -> reservation

	bankroll  decimal.Decimal
	realized  decimal.Decimal
	highWater decimal.Decimal
	dailyPnL  decimal.Decimal
	day       string // UTC date the daily counter belongs to
}

func newExposure(bankroll decimal.Decimal) *exposure {
	return &exposure{
		byMarket:  make(map[string]decimal.Decimal),
		byVenue:   make(map[string]decimal.Decimal),
		reserved:  make(map[string]reservation),
		bankroll:  bankroll,
		highWater: bankroll,
	}
}

func (e *exposure) market(id string) decimal.Decimal { return e.byMarket[id] }
func (e *exposure) venue(v string) decimal.Decimal   { return e.byVenue[v] }

func (e *exposure) reserve(requestID, marketID, venue string, amount decimal.Decimal) {
	e.byMarket[marketID] = e.byMarket[marketID].Add(amount)
	e.byVenue[venue] = e.byVenue[venue].Add(amount)
	e.reserved[requestID] = reservation{marketID: marketID, venue: venue, amount: amount}
}

// release returns up to amount of a request's reservation. A zero amount
// releases all of it.
func (e *exposure) release(requestID string, amount decimal.Decimal) bool {
	r, ok := e.reserved[requestID]
	if !ok {
		return false
	}
	if amount.IsZero() || amount.GreaterThanOrEqual(r.amount) {
		amount = r.amount
		delete(e.reserved, requestID)
	} else {
		r.amount = r.amount.Sub(amount)
		e.reserved[requestID] = r
	}
	e.byMarket[r.marketID] = clampZero(e.byMarket[r.marketID].Sub(amount))
	e.byVenue[r.venue] = clampZero(e.byVenue[r.venue].Sub(amount))
	if e.byMarket[r.marketID].IsZero() {
		delete(e.byMarket, r.marketID)
	}
	return true
}

// settle forgets a reservation without releasing its exposure (the position is open).
func (e *exposure) settle(requestID string) {
	delete(e.reserved, requestID)
}

// rollDay resets the daily P&L counter when the UTC date changes.
func (e *exposure) rollDay(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if day != e.day {
		e.day = day
		e.dailyPnL = decimal.Zero
	}
}

func (e *exposure) book(pnl decimal.Decimal, now time.Time) {
	e.rollDay(now)
	e.dailyPnL = e.dailyPnL.Add(pnl)
	e.realized = e.realized.Add(pnl)
	if eq := e.equity(); eq.GreaterThan(e.highWater) {
		e.highWater = eq
	}
}

func (e *exposure) equity() decimal.Decimal { return e.bankroll.Add(e.realized) }

// drawdown is (high water - equity) / high water.
func (e *exposure) drawdown() decimal.Decimal {
	if !e.highWater.IsPositive() {
		return decimal.Zero
	}
	return e.highWater.Sub(e.equity()).Div(e.highWater)
}

// dailyLoss is the positive size of today's loss, zero on a winning day.
func (e *exposure) dailyLoss() decimal.Decimal {
	if e.dailyPnL.IsNegative() {
		return e.dailyPnL.Neg()
	}
	return decimal.Zero
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
