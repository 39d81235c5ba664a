package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookSide selects the bid or ask side of an order book.
type BookSide string

const (
	BookBids BookSide = "bids"
	BookAsks BookSide = "asks"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a full snapshot of one market's YES book. Bids are sorted high to
// low and asks low to high.
type OrderBook struct {
	MarketID  string       `json:"market_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid, or zero and false for an empty side.
func (b OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or zero and false for an empty side.
func (b OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Mid returns the midpoint of the best bid and ask.
func (b OrderBook) Mid() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Spread returns best ask minus best bid.
func (b OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

func (b OrderBook) levels(side BookSide) []PriceLevel {
	if side == BookBids {
		return b.Bids
	}
	return b.Asks
}

// VWAP walks the given side and returns the volume-weighted average price for
// filling size shares. Buying walks the asks, selling walks the bids.
func (b OrderBook) VWAP(side BookSide, size decimal.Decimal) (decimal.Decimal, error) {
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("orderbook: vwap size must be positive, got %s", size)
	}
	remaining := size
	notional := decimal.Zero
	for _, l := range b.levels(side) {
		if !l.Size.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, l.Size)
		notional = notional.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			return notional.Div(size), nil
		}
	}
	return decimal.Zero, fmt.Errorf("orderbook: %w: %s short of %s on %s", ErrInsufficientDepth, remaining, size, side)
}

// Liquidity returns the total notional (price * size) resting on one side.
func (b OrderBook) Liquidity(side BookSide) decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.levels(side) {
		total = total.Add(l.Price.Mul(l.Size))
	}
	return total
}

// DepthWithin returns the size resting within band (absolute price distance) of
// the best price on that side.
func (b OrderBook) DepthWithin(side BookSide, band decimal.Decimal) decimal.Decimal {
	lv := b.levels(side)
	if len(lv) == 0 {
		return decimal.Zero
	}
	best := lv[0].Price
	depth := decimal.Zero
	for _, l := range lv {
		if l.Price.Sub(best).Abs().GreaterThan(band) {
			break
		}
		depth = depth.Add(l.Size)
	}
	return depth
}
