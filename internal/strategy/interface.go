package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// TradeParams is what an evaluator proposes for one opportunity. The agent
// applies the allocation cap before turning it into a TradeRequest.
type TradeParams struct {
	MarketID string
	Side     domain.OrderSide
	Outcome  domain.OutcomeSide
	Amount   decimal.Decimal
	MaxPrice decimal.Decimal
}

// Evaluator is the pluggable sizing and direction logic of a strategy. A nil
// result with a nil error means "no trade".
type Evaluator interface {
	Name() string
	Evaluate(opp domain.Opportunity) (*TradeParams, error)
}

// Params configures an evaluator built from the registry.
type Params struct {
	BaseSize decimal.Decimal
	Extra    map[string]string
}
