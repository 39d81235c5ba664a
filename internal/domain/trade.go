package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OutcomeSide is the binary outcome token being traded.
type OutcomeSide string

const (
	OutcomeYes OutcomeSide = "yes"
	OutcomeNo  OutcomeSide = "no"
)

// TradeRequest is a sized trade proposed by a strategy agent.
type TradeRequest struct {
	ID            string          `json:"id"`
	OpportunityID string          `json:"opportunity_id"`
	Strategy      string          `json:"strategy"`
	MarketID      string          `json:"market_id"`
	Side          OrderSide       `json:"side"`
	Outcome       OutcomeSide     `json:"outcome"`
	Amount        decimal.Decimal `json:"amount"` // USD notional
	MaxPrice      decimal.Decimal `json:"max_price"`
	ExpectedEdge  decimal.Decimal `json:"expected_edge"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Venue returns the venue prefix of the request's market ID.
func (r TradeRequest) Venue() string {
	v, _ := SplitMarketID(r.MarketID)
	return v
}

// RiskDecision is the guardian's verdict on one TradeRequest.
type RiskDecision struct {
	RequestID     string    `json:"request_id"`
	Approved      bool      `json:"approved"`
	Reason        string    `json:"reason"`
	RuleTriggered string    `json:"rule_triggered,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// TradeStatus tracks an order through its lifecycle.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeSubmitted TradeStatus = "submitted"
	TradeFilled    TradeStatus = "filled"
	TradePartial   TradeStatus = "partial"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
	TradeRejected  TradeStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeFilled, TradePartial, TradeCancelled, TradeFailed, TradeRejected:
		return true
	}
	return false
}

// ReleasesExposure reports whether a trade in this status never consumed the
// capital reserved for it at approval time.
func (s TradeStatus) ReleasesExposure() bool {
	switch s {
	case TradeCancelled, TradeFailed, TradeRejected:
		return true
	}
	return false
}

// Trade is an executed (or refused) order.
type Trade struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	MarketID   string          `json:"market_id"`
	Venue      string          `json:"venue"`
	Side       OrderSide       `json:"side"`
	Outcome    OutcomeSide     `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Fees       decimal.Decimal `json:"fees"`
	Status     TradeStatus     `json:"status"`
	ExternalID string          `json:"external_id,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// TradeResult is a Trade tagged with the strategy that requested it and the
// realized P&L.
type TradeResult struct {
	Trade
	Strategy string          `json:"strategy"`
	PnL      decimal.Decimal `json:"pnl"`
}

// AllocationUpdate announces a strategy's share of total capital.
type AllocationUpdate struct {
	Strategy      string          `json:"strategy"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
	TotalCapital  decimal.Decimal `json:"total_capital"`
}

// Capital returns TotalCapital * AllocationPct.
func (a AllocationUpdate) Capital() decimal.Decimal {
	return a.TotalCapital.Mul(a.AllocationPct)
}

// Control commands carried on the system command topic.
const (
	CommandHaltAll   = "HALT_ALL"
	CommandResumeAll = "RESUME_ALL"
)

// Command is an out-of-band control message observed by every agent.
type Command struct {
	Command  string    `json:"command"`
	Reason   string    `json:"reason,omitempty"`
	IssuedBy string    `json:"issued_by,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}
