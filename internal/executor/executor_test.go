package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memJournal struct{ results []domain.TradeResult }

func (m *memJournal) Record(_ context.Context, r domain.TradeResult) error {
	m.results = append(m.results, r)
	return nil
}

func (m *memJournal) ListRecent(context.Context, domain.ListOpts) ([]domain.TradeResult, error) {
	return m.results, nil
}

type recordingSink struct{ alerts []domain.Alert }

func (r *recordingSink) Notify(_ context.Context, a domain.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type stubPlacer struct {
	trade domain.Trade
	err   error
	calls int
}

func (s *stubPlacer) PlaceOrder(context.Context, domain.TradeRequest) (domain.Trade, error) {
	s.calls++
	return s.trade, s.err
}

type fixture struct {
	exec    *Executor
	bus     *bus.MemoryBus
	now     *time.Time
	journal *memJournal
	sink    *recordingSink
}

func newFixture(t *testing.T, mutate func(*Config), opts ...Option) fixture {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	j := &memJournal{}
	sink := &recordingSink{}
	opts = append(opts, WithJournal(j), WithAlerts(sink))
	e, err := New(b, cfg, quiet(), opts...)
	require.NoError(t, err)
	e.WithClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, e.Runner().Setup(ctx))
	require.NoError(t, b.CreateGroup(ctx, bus.TopicResults, "observer"))
	return fixture{exec: e, bus: b, now: &now, journal: j, sink: sink}
}

func (f fixture) results(t *testing.T) []domain.TradeResult {
	t.Helper()
	msgs, err := f.bus.Consume(context.Background(), bus.TopicResults, "observer", "o", 100, 0)
	require.NoError(t, err)
	out := make([]domain.TradeResult, 0, len(msgs))
	for _, m := range msgs {
		var r domain.TradeResult
		require.NoError(t, bus.Decode(m.Payload, &r))
		out = append(out, r)
	}
	return out
}

func request(id string) domain.TradeRequest {
	return domain.TradeRequest{
		ID: id, OpportunityID: "opp-" + id, Strategy: "arb", MarketID: "polymarket:m1",
		Side: domain.SideBuy, Outcome: domain.OutcomeYes,
		Amount: d("50"), MaxPrice: d("0.45"), ExpectedEdge: d("0.10"),
	}
}

func publish(t *testing.T, b domain.Bus, topic string, v any) {
	t.Helper()
	_, err := bus.PublishJSON(context.Background(), b, topic, v)
	require.NoError(t, err)
}

func TestPaperFill(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(ctx))

	res := f.results(t)
	require.Len(t, res, 1)
	r := res[0]
	assert.Equal(t, domain.TradeFilled, r.Status)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, "arb", r.Strategy)
	assert.Equal(t, domain.VenuePolymarket, r.Venue)
	assert.True(t, r.Amount.Equal(d("50")))
	assert.True(t, r.Price.Equal(d("0.45")))
	assert.True(t, r.Fees.Equal(d("0.5")), "1%% of 50, got %s", r.Fees)
	assert.True(t, r.PnL.Equal(d("4.5")), "50*0.10 - 0.5, got %s", r.PnL)

	require.Len(t, f.journal.results, 1)
	require.Len(t, f.sink.alerts, 1)
	assert.Equal(t, "fill", f.sink.alerts[0].Event)
}

func TestRejectedDecision(t *testing.T) {
	f := newFixture(t, nil)

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Reason: "too big", RuleTriggered: "position_limit"})
	require.NoError(t, f.exec.Runner().RunOnce(context.Background()))

	res := f.results(t)
	require.Len(t, res, 1)
	assert.Equal(t, domain.TradeRejected, res[0].Status)
	assert.True(t, res[0].Fees.IsZero())
	assert.True(t, res[0].PnL.IsZero())
	assert.Empty(t, f.sink.alerts, "rejections are not fills")
}

func TestDecisionBeforeRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	dec, err := bus.Encode(domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, err)
	req, err := bus.Encode(request("r1"))
	require.NoError(t, err)

	require.NoError(t, f.exec.handleDecision(ctx, domain.Message{ID: "1", Topic: bus.TopicDecisions, Payload: dec}))
	assert.Empty(t, f.results(t))
	require.NoError(t, f.exec.handleRequest(ctx, domain.Message{ID: "1", Topic: bus.TopicTradeRequests, Payload: req}))

	res := f.results(t)
	require.Len(t, res, 1)
	assert.Equal(t, domain.TradeFilled, res[0].Status)
}

func TestOneResultPerRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(ctx))
	require.NoError(t, f.exec.Runner().RunOnce(ctx))

	assert.Len(t, f.results(t), 1)
}

func TestHaltedCancelsApproved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	publish(t, f.bus, bus.TopicCommands, domain.Command{Command: domain.CommandHaltAll, Reason: "test"})
	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(ctx))

	res := f.results(t)
	require.Len(t, res, 1)
	assert.Equal(t, domain.TradeCancelled, res[0].Status)
	assert.True(t, res[0].Amount.IsZero())
}

func TestPendingExpiry(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PendingTTL = time.Minute })
	ctx := context.Background()

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	require.NoError(t, f.exec.Runner().RunOnce(ctx))
	assert.Empty(t, f.results(t))
	assert.Equal(t, 1, f.exec.Snapshot().Details["pending_join"])

	*f.now = f.now.Add(2 * time.Minute)
	f.exec.Expire(ctx)

	res := f.results(t)
	require.Len(t, res, 1)
	assert.Equal(t, domain.TradeCancelled, res[0].Status)
	assert.Equal(t, 0, f.exec.Snapshot().Details["pending_join"])

	// A late decision finds the request already closed out.
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(ctx))
	assert.Empty(t, f.results(t))
}

func TestLiveModeRequiresPlacer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	_, err := New(bus.NewMemoryBus(bus.MemoryConfig{}), cfg, quiet())
	assert.ErrorIs(t, err, domain.ErrNoOrderPlacer)

	cfg.Mode = "margin"
	_, err = New(bus.NewMemoryBus(bus.MemoryConfig{}), cfg, quiet())
	assert.Error(t, err)
}

func TestLiveFailure(t *testing.T) {
	placer := &stubPlacer{err: errors.New("venue down")}
	f := newFixture(t, func(c *Config) { c.Mode = ModeLive }, WithOrderPlacer(placer))

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(context.Background()))

	res := f.results(t)
	require.Len(t, res, 1)
	assert.Equal(t, domain.TradeFailed, res[0].Status)
	assert.Equal(t, 1, placer.calls)
}

func TestLivePartialFill(t *testing.T) {
	placer := &stubPlacer{trade: domain.Trade{
		ExternalID: "ord-9", Amount: d("20"), Price: d("0.44"), Fees: d("0.1"), Status: domain.TradeFilled,
	}}
	f := newFixture(t, func(c *Config) { c.Mode = ModeLive }, WithOrderPlacer(placer))

	publish(t, f.bus, bus.TopicTradeRequests, request("r1"))
	publish(t, f.bus, bus.TopicDecisions, domain.RiskDecision{RequestID: "r1", Approved: true})
	require.NoError(t, f.exec.Runner().RunOnce(context.Background()))

	res := f.results(t)
	require.Len(t, res, 1)
	r := res[0]
	assert.Equal(t, domain.TradePartial, r.Status)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, "polymarket:m1", r.MarketID)
	assert.NotEmpty(t, r.ID)
	assert.True(t, r.PnL.Equal(d("1.9")), "20*0.10 - 0.1, got %s", r.PnL)
}

func TestNegativeFeeRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PaperFeeRate = d("-0.01")
	_, err := New(bus.NewMemoryBus(bus.MemoryConfig{}), cfg, quiet())
	assert.Error(t, err)
}
