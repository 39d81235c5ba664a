package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Rule names reported in RiskDecision.RuleTriggered.
const (
	RuleHalted         = "halted"
	RuleInvalidRequest = "invalid_request"
	RulePositionLimit  = "position_limit"
	RulePlatformLimit  = "platform_limit"
	RuleDailyLossLimit = "daily_loss_limit"
	RuleDrawdownLimit  = "drawdown_limit"
	RuleMinProfit      = "min_profit"
	RuleSlippage       = "slippage"
)

var one = decimal.NewFromInt(1)

// rule computes a derived quantity for a request and compares it to a bound.
// check returns a non-empty reason on violation.
type rule struct {
	name  string
	check func(req domain.TradeRequest) string
}

// rules returns the ordered rule chain. The first violation wins.
func (g *Guardian) rules() []rule {
	return []rule{
		{RuleHalted, g.checkHalted},
		{RuleInvalidRequest, g.checkValid},
		{RulePositionLimit, g.checkPosition},
		{RulePlatformLimit, g.checkPlatform},
		{RuleDailyLossLimit, g.checkDailyLoss},
		{RuleDrawdownLimit, g.checkDrawdown},
		{RuleMinProfit, g.checkMinProfit},
		{RuleSlippage, g.checkSlippage},
	}
}

func (g *Guardian) checkHalted(domain.TradeRequest) string {
	if g.runner.Halted() {
		return "trading halted"
	}
	return ""
}

func (g *Guardian) checkValid(req domain.TradeRequest) string {
	switch {
	case req.MarketID == "":
		return "missing market id"
	case req.Venue() == "":
		return fmt.Sprintf("market id %q has no venue prefix", req.MarketID)
	case !req.Amount.IsPositive():
		return fmt.Sprintf("amount %s must be positive", req.Amount)
	case !req.MaxPrice.IsPositive() || req.MaxPrice.GreaterThan(one):
		return fmt.Sprintf("max price %s outside (0,1]", req.MaxPrice)
	}
	return ""
}

func (g *Guardian) checkPosition(req domain.TradeRequest) string {
	limit := g.cfg.Bankroll.Mul(g.cfg.PositionLimitPct)
	after := g.exp.market(req.MarketID).Add(req.Amount)
	if after.GreaterThan(limit) {
		return fmt.Sprintf("market exposure %s would exceed limit %s", after.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

func (g *Guardian) checkPlatform(req domain.TradeRequest) string {
	limit := g.cfg.Bankroll.Mul(g.cfg.PlatformLimitPct)
	after := g.exp.venue(req.Venue()).Add(req.Amount)
	if after.GreaterThan(limit) {
		return fmt.Sprintf("%s exposure %s would exceed limit %s", req.Venue(), after.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

func (g *Guardian) checkDailyLoss(domain.TradeRequest) string {
	if !g.cfg.DailyLossLimitPct.IsPositive() {
		return ""
	}
	limit := g.cfg.Bankroll.Mul(g.cfg.DailyLossLimitPct)
	if loss := g.exp.dailyLoss(); loss.GreaterThanOrEqual(limit) {
		return fmt.Sprintf("daily loss %s reached limit %s", loss.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

func (g *Guardian) checkDrawdown(domain.TradeRequest) string {
	if !g.cfg.MaxDrawdownPct.IsPositive() {
		return ""
	}
	if dd := g.exp.drawdown(); dd.GreaterThanOrEqual(g.cfg.MaxDrawdownPct) {
		return fmt.Sprintf("drawdown %s%% reached limit %s%%", pct(dd), pct(g.cfg.MaxDrawdownPct))
	}
	return ""
}

func (g *Guardian) checkMinProfit(req domain.TradeRequest) string {
	if !g.cfg.MinProfit.IsPositive() {
		return ""
	}
	expected := req.Amount.Mul(req.ExpectedEdge)
	if expected.LessThan(g.cfg.MinProfit) {
		return fmt.Sprintf("expected profit %s below floor %s", expected.StringFixed(4), g.cfg.MinProfit)
	}
	return ""
}

// checkSlippage walks the latest book for the request's market. A missing or
// stale book never blocks a trade.
func (g *Guardian) checkSlippage(req domain.TradeRequest) string {
	if !g.cfg.MaxSlippage.IsPositive() {
		return ""
	}
	book, ok := g.books[req.MarketID]
	if !ok {
		return ""
	}
	if g.cfg.BookMaxAge > 0 && !book.Timestamp.IsZero() && g.now().Sub(book.Timestamp) > g.cfg.BookMaxAge {
		return ""
	}

	shares := req.Amount.Div(req.MaxPrice)
	price, err := effectivePrice(book, req, shares)
	if err != nil {
		return err.Error()
	}
	if req.Side == domain.SideSell {
		floor := req.MaxPrice.Mul(one.Sub(g.cfg.MaxSlippage))
		if price.LessThan(floor) {
			return fmt.Sprintf("vwap %s below floor %s", price.StringFixed(4), floor.StringFixed(4))
		}
		return ""
	}
	ceiling := req.MaxPrice.Mul(one.Add(g.cfg.MaxSlippage))
	if price.GreaterThan(ceiling) {
		return fmt.Sprintf("vwap %s above ceiling %s", price.StringFixed(4), ceiling.StringFixed(4))
	}
	return ""
}

// effectivePrice is the VWAP the request would pay in outcome terms. Books
// are YES books, so NO is priced as 1 - VWAP of the opposite side.
func effectivePrice(book domain.OrderBook, req domain.TradeRequest, shares decimal.Decimal) (decimal.Decimal, error) {
	buying := req.Side != domain.SideSell
	side := domain.BookAsks
	if buying == (req.Outcome == domain.OutcomeNo) {
		side = domain.BookBids
	}
	vwap, err := book.VWAP(side, shares)
	if err != nil {
		return decimal.Zero, err
	}
	if req.Outcome == domain.OutcomeNo {
		return one.Sub(vwap), nil
	}
	return vwap, nil
}

func pct(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
