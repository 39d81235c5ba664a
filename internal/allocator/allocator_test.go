package allocator

import (
	"context"
	"fmt"
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

func sum(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

func filled(id, strategy, pnl string) domain.TradeResult {
	return domain.TradeResult{
		Trade:    domain.Trade{ID: id, Status: domain.TradeFilled},
		Strategy: strategy,
		PnL:      d(pnl),
	}
}

func newAllocator(t *testing.T, strategies ...string) (*Allocator, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	cfg := DefaultConfig()
	cfg.Strategies = strategies
	a := New(b, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, a.Runner().Setup(context.Background()))
	require.NoError(t, b.CreateGroup(context.Background(), bus.TopicAllocations, "test"))
	return a, b
}

func TestScore(t *testing.T) {
	assert.True(t, Score(Performance{}).Equal(d("0.1")), "untested strategies get the floor")

	winner := Performance{Trades: 5, Wins: 5, TotalPnL: d("100")}
	assert.True(t, Score(winner).Equal(d("2.5")))

	loser := Performance{Trades: 5, Losses: 5, TotalPnL: d("-50")}
	assert.True(t, Score(loser).Equal(d("0.5")))

	wiped := Performance{Trades: 5, Losses: 5, TotalPnL: d("-500")}
	assert.True(t, Score(wiped).Equal(d("0.1")))
}

func TestAllocateProportionalClampedAndNormalized(t *testing.T) {
	allocs := Allocate(map[string]decimal.Decimal{"winner": d("2.5"), "loser": d("0.5")}, d("0.05"), d("0.50"))

	assert.True(t, allocs["winner"].GreaterThan(allocs["loser"]))
	assert.InDelta(t, 0.75, allocs["winner"].InexactFloat64(), 1e-9)
	assert.InDelta(t, 0.25, allocs["loser"].InexactFloat64(), 1e-9)
	assert.True(t, sum(allocs).LessThanOrEqual(d("1")))
}

func TestAllocateEqualFallback(t *testing.T) {
	allocs := Allocate(map[string]decimal.Decimal{"a": decimal.Zero, "b": d("-1")}, d("0.05"), d("0.5"))
	assert.True(t, allocs["a"].Equal(d("0.5")))
	assert.True(t, allocs["b"].Equal(d("0.5")))
	assert.Empty(t, Allocate(nil, d("0.05"), d("0.5")))
}

func TestAllocationsNeverExceedWhole(t *testing.T) {
	var grid []decimal.Decimal
	for i := int64(1); i <= 30; i++ {
		grid = append(grid, decimal.New(i, -1))
	}
	for _, a := range grid {
		for _, b := range grid {
			for _, c := range grid {
				allocs := Allocate(map[string]decimal.Decimal{"a": a, "b": b, "c": c}, d("0.05"), d("0.5"))
				total := sum(allocs)
				if !total.LessThanOrEqual(one) {
					t.Fatalf("scores (%s, %s, %s) allocate %s", a, b, c, total)
				}
			}
		}
	}

	equal := Allocate(map[string]decimal.Decimal{"a": decimal.Zero, "b": decimal.Zero, "c": decimal.Zero,
		"d": decimal.Zero, "e": decimal.Zero, "f": decimal.Zero}, d("0.05"), d("0.5"))
	assert.True(t, sum(equal).Equal(one), sum(equal).String())
}

func TestRebalanceFavoursProfitableStrategy(t *testing.T) {
	a, b := newAllocator(t, "momentum", "meanrev")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(ctx, filled(fmt.Sprintf("w%d", i), "momentum", "20")))
		require.NoError(t, a.Record(ctx, filled(fmt.Sprintf("l%d", i), "meanrev", "-10")))
	}

	allocs := a.Allocations()
	assert.True(t, allocs["momentum"].GreaterThan(allocs["meanrev"]))
	assert.True(t, sum(allocs).LessThanOrEqual(d("1")))

	msgs, err := b.Consume(ctx, bus.TopicAllocations, "test", "t", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "one update per strategy")
	var upd domain.AllocationUpdate
	require.NoError(t, bus.Decode(msgs[0].Payload, &upd))
	assert.Equal(t, "meanrev", upd.Strategy)
	assert.True(t, upd.TotalCapital.Equal(d("1000")))
}

func TestRebalanceEveryNTrades(t *testing.T) {
	a, b := newAllocator(t, "arb")
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		require.NoError(t, a.Record(ctx, filled(fmt.Sprintf("t%d", i), "arb", "1")))
	}
	msgs, _ := b.Consume(ctx, bus.TopicAllocations, "test", "t", 10, 0)
	assert.Empty(t, msgs)

	require.NoError(t, a.Record(ctx, filled("t9", "arb", "1")))
	msgs, _ = b.Consume(ctx, bus.TopicAllocations, "test", "t", 10, 0)
	assert.Len(t, msgs, 1)
}

func TestOnlyFilledResultsCountAndUnknownStrategiesRegister(t *testing.T) {
	a, _ := newAllocator(t, "arb")
	ctx := context.Background()

	rejected := filled("x", "arb", "0")
	rejected.Status = domain.TradeRejected
	require.NoError(t, a.Record(ctx, rejected))
	require.NoError(t, a.Record(ctx, filled("y", "newcomer", "5")))

	perf := a.Snapshot().Details["performance"].(map[string]Performance)
	assert.Zero(t, perf["arb"].Trades)
	assert.Equal(t, 1, perf["newcomer"].Trades)
	assert.Equal(t, 1, perf["newcomer"].Wins)
	assert.True(t, perf["newcomer"].LargestWin.Equal(d("5")))
}

func TestDuplicateResultDeliveryIsIgnored(t *testing.T) {
	a, b := newAllocator(t, "arb")
	ctx := context.Background()
	res := filled("t1", "arb", "3")
	_, _ = bus.PublishJSON(ctx, b, bus.TopicResults, res)
	_, _ = bus.PublishJSON(ctx, b, bus.TopicResults, res)
	require.NoError(t, a.Runner().RunOnce(ctx))

	perf := a.Snapshot().Details["performance"].(map[string]Performance)
	assert.Equal(t, 1, perf["arb"].Trades)
}

func TestInitialAllocationIsEqual(t *testing.T) {
	a, _ := newAllocator(t, "a", "b", "c", "d")
	for _, v := range a.Allocations() {
		assert.True(t, v.Equal(d("0.25")))
	}
}
