package strategy

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ArbEvaluatorName is the registry name of the built-in arbitrage evaluator.
const ArbEvaluatorName = "arb"

var one = decimal.NewFromInt(1)

// ArbEvaluator buys the underpriced leg of an opportunity, sized as
// base_size * signal_strength.
type ArbEvaluator struct {
	baseSize decimal.Decimal
}

// NewArbEvaluator is the registry factory for ArbEvaluator.
func NewArbEvaluator(p Params) (Evaluator, error) {
	if !p.BaseSize.IsPositive() {
		return nil, errors.New("base size must be positive")
	}
	return &ArbEvaluator{baseSize: p.BaseSize}, nil
}

// Name returns the evaluator identifier.
func (e *ArbEvaluator) Name() string { return ArbEvaluatorName }

// Evaluate picks market, outcome and limit price by opportunity type.
// Multi-outcome and temporal opportunities have no single-leg trade here.
func (e *ArbEvaluator) Evaluate(opp domain.Opportunity) (*TradeParams, error) {
	var p TradeParams
	switch md := opp.Metadata.(type) {
	case domain.MispricingMetadata:
		if md.Kind != "binary" || len(opp.Markets) == 0 {
			return nil, nil
		}
		p = TradeParams{MarketID: opp.Markets[0].ID, Outcome: domain.OutcomeYes, MaxPrice: md.YesPrice}
	case domain.CrossPlatformMetadata:
		p = TradeParams{MarketID: md.BuyMarketID, Outcome: domain.OutcomeYes, MaxPrice: md.BuyPrice}
	case domain.OracleLagMetadata:
		if len(opp.Markets) == 0 {
			return nil, nil
		}
		p = TradeParams{MarketID: opp.Markets[0].ID, Outcome: md.Side, MaxPrice: md.CurrentPrice}
	default:
		return nil, nil
	}
	if !p.MaxPrice.IsPositive() || p.MaxPrice.GreaterThanOrEqual(one) {
		return nil, nil
	}
	p.Side = domain.SideBuy
	p.Amount = e.baseSize.Mul(opp.SignalStrength).Round(2)
	if !p.Amount.IsPositive() {
		return nil, nil
	}
	return &p, nil
}

var _ Evaluator = (*ArbEvaluator)(nil)
