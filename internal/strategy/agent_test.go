package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mispricing(edge, strength string) domain.Opportunity {
	return domain.Opportunity{
		ID:             "opp-1",
		Type:           domain.OppMispricing,
		Markets:        []domain.Market{{ID: "polymarket:m", YesPrice: d("0.45"), NoPrice: d("0.45")}},
		ExpectedEdge:   d(edge),
		SignalStrength: d(strength),
		Metadata:       domain.MispricingMetadata{Kind: "binary", YesPrice: d("0.45"), NoPrice: d("0.45"), PriceSum: d("0.90")},
	}
}

func newAgent(t *testing.T, cfg Config) (*Agent, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	ev, err := NewDefaultRegistry().Build(ArbEvaluatorName, Params{BaseSize: d("100")})
	require.NoError(t, err)
	a := NewAgent(b, cfg, ev, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, a.Runner().Setup(context.Background()))
	return a, b
}

func TestArbEvaluatorSizesByStrength(t *testing.T) {
	ev, err := NewArbEvaluator(Params{BaseSize: d("100")})
	require.NoError(t, err)

	p, err := ev.Evaluate(mispricing("0.10", "0.5"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "polymarket:m", p.MarketID)
	assert.Equal(t, domain.SideBuy, p.Side)
	assert.Equal(t, domain.OutcomeYes, p.Outcome)
	assert.True(t, p.Amount.Equal(d("50")))
	assert.True(t, p.MaxPrice.Equal(d("0.45")))
}

func TestArbEvaluatorDirections(t *testing.T) {
	ev, _ := NewArbEvaluator(Params{BaseSize: d("10")})

	cross := domain.Opportunity{
		Type: domain.OppCrossPlatform, SignalStrength: d("1"),
		Metadata: domain.CrossPlatformMetadata{BuyMarketID: "kalshi:E", BuyPrice: d("0.40"), SellMarketID: "polymarket:E", SellPrice: d("0.48")},
	}
	p, err := ev.Evaluate(cross)
	require.NoError(t, err)
	assert.Equal(t, "kalshi:E", p.MarketID)
	assert.True(t, p.MaxPrice.Equal(d("0.40")))

	lag := domain.Opportunity{
		Type: domain.OppOracleLag, SignalStrength: d("0.3"),
		Markets:  []domain.Market{{ID: "polymarket:btc"}},
		Metadata: domain.OracleLagMetadata{Side: domain.OutcomeNo, CurrentPrice: d("0.70")},
	}
	p, err = ev.Evaluate(lag)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, p.Outcome)
	assert.True(t, p.Amount.Equal(d("3")))

	multi := domain.Opportunity{Type: domain.OppMispricing, SignalStrength: d("1"), Metadata: domain.MispricingMetadata{Kind: "multi_outcome"}}
	p, err = ev.Evaluate(multi)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewArbEvaluator(Params{})
	require.Error(t, err)
}

func TestRegistryUnknownName(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{ArbEvaluatorName}, r.List())
	_, err := r.Build("nope", Params{})
	require.Error(t, err)
}

func TestAgentFloorsAndTypeFilter(t *testing.T) {
	a, _ := newAgent(t, Config{
		Name:              "arb",
		Types:             []domain.OpportunityType{domain.OppMispricing},
		MinEdge:           d("0.05"),
		MinSignalStrength: d("0.3"),
	})

	_, reason, err := a.Consider(mispricing("0.03", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, "below_min_edge", reason)

	_, reason, _ = a.Consider(mispricing("0.10", "0.2"))
	assert.Equal(t, "weak_signal", reason)

	other := mispricing("0.10", "0.5")
	other.Type = domain.OppTemporal
	_, reason, _ = a.Consider(other)
	assert.Equal(t, "type_filtered", reason)

	req, _, err := a.Consider(mispricing("0.10", "0.5"))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "arb", req.Strategy)
	assert.Equal(t, "opp-1", req.OpportunityID)
	assert.True(t, req.Amount.Equal(d("50")))
	assert.True(t, req.ExpectedEdge.Equal(d("0.10")))
}

func TestAgentCapsAtAllocation(t *testing.T) {
	a, b := newAgent(t, Config{Name: "arb"})
	ctx := context.Background()

	_, err := bus.PublishJSON(ctx, b, bus.TopicAllocations, domain.AllocationUpdate{Strategy: "other", AllocationPct: d("1"), TotalCapital: d("1000")})
	require.NoError(t, err)
	_, err = bus.PublishJSON(ctx, b, bus.TopicAllocations, domain.AllocationUpdate{Strategy: "arb", AllocationPct: d("0.03"), TotalCapital: d("1000")})
	require.NoError(t, err)
	require.NoError(t, b.CreateGroup(ctx, bus.TopicTradeRequests, "test"))
	_, err = bus.PublishJSON(ctx, b, bus.TopicOpportunities, mispricing("0.10", "0.5"))
	require.NoError(t, err)

	require.NoError(t, a.Runner().RunOnce(ctx))

	msgs, err := b.Consume(ctx, bus.TopicTradeRequests, "test", "t", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var req domain.TradeRequest
	require.NoError(t, bus.Decode(msgs[0].Payload, &req))
	assert.True(t, req.Amount.Equal(d("30")), req.Amount.String())
	assert.Equal(t, "0.03", a.Snapshot().Details["allocation_pct"])
}

func TestAgentDropsWhileHalted(t *testing.T) {
	a, b := newAgent(t, Config{Name: "arb"})
	ctx := context.Background()
	_, _ = bus.PublishJSON(ctx, b, bus.TopicCommands, domain.Command{Command: domain.CommandHaltAll})
	require.NoError(t, a.Runner().RunOnce(ctx))

	req, reason, err := a.Consider(mispricing("0.10", "0.5"))
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, "halted", reason)
}

type failingEvaluator struct{}

func (failingEvaluator) Name() string { return "failing" }
func (failingEvaluator) Evaluate(domain.Opportunity) (*TradeParams, error) {
	return nil, errors.New("model unavailable")
}

func TestEvaluatorErrorsSurface(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	a := NewAgent(b, Config{}, failingEvaluator{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	_, _ = bus.PublishJSON(ctx, b, bus.TopicOpportunities, mispricing("0.10", "0.5"))
	require.NoError(t, a.Runner().RunOnce(ctx))
	assert.EqualValues(t, 1, a.Snapshot().Failed)
	assert.Equal(t, "strategy_failing", a.Snapshot().Name)
}
