package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSplitMarketID(t *testing.T) {
	v, ext := SplitMarketID("kalshi:KXBTC-25:above")
	assert.Equal(t, "kalshi", v)
	assert.Equal(t, "KXBTC-25:above", ext)

	v, ext = SplitMarketID("nocolon")
	assert.Equal(t, "", v)
	assert.Equal(t, "nocolon", ext)

	assert.Equal(t, "polymarket:abc", MarketID(VenuePolymarket, "abc"))
}

func TestMultiOutcomeEdgeIsOrderIndependent(t *testing.T) {
	a := MultiOutcomeMarket{Outcomes: []Outcome{
		{Name: "A", Price: d("0.30")}, {Name: "B", Price: d("0.25")}, {Name: "C", Price: d("0.33")},
	}}
	b := MultiOutcomeMarket{Outcomes: []Outcome{a.Outcomes[2], a.Outcomes[0], a.Outcomes[1]}}

	assert.True(t, a.PriceSum().Equal(b.PriceSum()))
	assert.True(t, a.ArbitrageEdge().Equal(d("0.12")))

	over := MultiOutcomeMarket{Outcomes: []Outcome{{Price: d("0.6")}, {Price: d("0.5")}}}
	assert.True(t, over.ArbitrageEdge().IsZero())
}

func TestOrderBookVWAP(t *testing.T) {
	book := OrderBook{
		MarketID: "polymarket:x",
		Bids:     []PriceLevel{{Price: d("0.48"), Size: d("100")}, {Price: d("0.47"), Size: d("50")}},
		Asks:     []PriceLevel{{Price: d("0.50"), Size: d("100")}, {Price: d("0.60"), Size: d("100")}},
	}

	vwap, err := book.VWAP(BookAsks, d("200"))
	require.NoError(t, err)
	assert.True(t, vwap.Equal(d("0.55")), vwap.String())

	_, err = book.VWAP(BookAsks, d("201"))
	require.ErrorIs(t, err, ErrInsufficientDepth)

	mid, ok := book.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("0.49")))

	spread, _ := book.Spread()
	assert.True(t, spread.Equal(d("0.02")))
	assert.True(t, book.Liquidity(BookBids).Equal(d("71.5")))
	assert.True(t, book.DepthWithin(BookBids, d("0.01")).Equal(d("150")))
}

func TestOpportunityMetadataRoundTrip(t *testing.T) {
	ov := d("101000")
	opp := Opportunity{
		ID:             "opp-1",
		Type:           OppOracleLag,
		Markets:        []Market{{ID: "kalshi:BTC-100K", Venue: VenueKalshi, YesPrice: d("0.40"), NoPrice: d("0.58")}},
		OracleSource:   "binance",
		OracleValue:    &ov,
		ExpectedEdge:   d("0.45"),
		SignalStrength: d("0.1"),
		DetectedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata: OracleLagMetadata{
			Symbol: "BTCUSDT", Threshold: d("100000"), Direction: DirectionAbove,
			FairPrice: d("0.9"), CurrentPrice: d("0.40"), Side: OutcomeYes,
			GrossEdge: d("0.5"), FeeRate: d("0.05"),
		},
	}

	raw, err := json.Marshal(opp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"expected_edge":"0.45"`)
	assert.Contains(t, string(raw), `"metadata":{"symbol":"BTCUSDT"`)

	var got Opportunity
	require.NoError(t, json.Unmarshal(raw, &got))
	md, ok := got.Metadata.(OracleLagMetadata)
	require.True(t, ok, "metadata decoded as %T", got.Metadata)
	assert.Equal(t, DirectionAbove, md.Direction)
	assert.True(t, md.FeeRate.Equal(d("0.05")))
	assert.True(t, got.OracleValue.Equal(ov))
	assert.Equal(t, "kalshi:BTC-100K", got.PrimaryMarketID())
}

func TestOpportunityRejectsMismatchedMetadata(t *testing.T) {
	_, err := json.Marshal(Opportunity{ID: "x", Type: OppMispricing, Metadata: CrossPlatformMetadata{}})
	require.Error(t, err)

	var o Opportunity
	err = json.Unmarshal([]byte(`{"id":"x","type":"bogus"}`), &o)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCrossPlatformPrimaryMarketIsBuyLeg(t *testing.T) {
	opp := Opportunity{
		Type:    OppCrossPlatform,
		Markets: []Market{{ID: "kalshi:E"}, {ID: "polymarket:E"}},
		Metadata: CrossPlatformMetadata{BuyMarketID: "polymarket:E", SellMarketID: "kalshi:E"},
	}
	assert.Equal(t, "polymarket:E", opp.PrimaryMarketID())
}

func TestTradeStatusReleasesExposure(t *testing.T) {
	assert.True(t, TradeFailed.ReleasesExposure())
	assert.True(t, TradeCancelled.ReleasesExposure())
	assert.False(t, TradeFilled.ReleasesExposure())
	assert.False(t, TradePending.Terminal())
}

func TestMultiOutcomeMispricingWireShape(t *testing.T) {
	opp := Opportunity{
		ID:           "opp-2",
		Type:         OppMispricing,
		ExpectedEdge: d("0.10"),
		Metadata: MispricingMetadata{
			Kind:     "multi_outcome",
			Outcomes: []Outcome{{Name: "A", Price: d("0.5")}, {Name: "B", Price: d("0.4")}},
			PriceSum: d("0.9"),
		},
	}
	raw, err := json.Marshal(opp)
	require.NoError(t, err)
	// Trailing zeros are not kept on the wire; compare edges numerically.
	assert.Contains(t, string(raw), `"expected_edge":"0.1"`)
	assert.Contains(t, string(raw), `"yes_price":"0","no_price":"0"`)

	var got Opportunity
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.True(t, got.ExpectedEdge.Equal(d("0.10")))
	md := got.Metadata.(MispricingMetadata)
	assert.Len(t, md.Outcomes, 2)
	assert.True(t, md.YesPrice.IsZero())
}
