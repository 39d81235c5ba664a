package polymarket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsJSON = `[
 {"id":"501","question":"Will BTC close above $100k?","closed":false,
  "outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.45\",\"0.45\"]",
  "volume24hr":1234.5,"liquidity":"9000"},
 {"id":"502","question":"Closed one","closed":true,
  "outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"1\",\"0\"]"},
 {"id":"503","question":"Three way","closed":false,
  "outcomes":"[\"A\",\"B\",\"C\"]","outcomePrices":"[\"0.3\",\"0.3\",\"0.3\"]"},
 {"id":"504","question":"Reversed order","closed":false,
  "outcomes":"[\"No\",\"Yes\"]","outcomePrices":"[\"0.7\",\"0.31\"]"}
]`

const eventsJSON = `[
 {"id":"77","title":"Who wins?","negRisk":true,"markets":[
   {"id":"1","groupItemTitle":"Alice","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.30\",\"0.70\"]"},
   {"id":"2","groupItemTitle":"Bob","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.25\",\"0.75\"]"},
   {"id":"3","groupItemTitle":"Carol","closed":true,"outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0\",\"1\"]"}
 ]},
 {"id":"78","title":"Not neg risk","negRisk":false,"markets":[]}
]`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		switch r.URL.Path {
		case "/markets":
			_, _ = io.WriteString(w, marketsJSON)
		case "/events":
			_, _ = io.WriteString(w, eventsJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollMarketsAndEvents(t *testing.T) {
	srv := newServer(t)
	g := NewGammaClient(srv.URL, 25, true)

	up, err := g.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, up.Markets, 2)
	m := up.Markets[0]
	assert.Equal(t, "polymarket:501", m.ID)
	assert.Equal(t, Venue, m.Venue)
	assert.True(t, m.YesPrice.Equal(decimal.RequireFromString("0.45")))
	assert.True(t, m.Volume24h.Equal(decimal.RequireFromString("1234.5")))
	assert.True(t, m.Liquidity.Equal(decimal.NewFromInt(9000)))
	assert.False(t, m.LastUpdated.IsZero())

	rev := up.Markets[1]
	assert.True(t, rev.YesPrice.Equal(decimal.RequireFromString("0.31")))
	assert.True(t, rev.NoPrice.Equal(decimal.RequireFromString("0.7")))

	require.Len(t, up.Multi, 1)
	ev := up.Multi[0]
	assert.Equal(t, "polymarket:event-77", ev.ID)
	require.Len(t, ev.Outcomes, 2)
	assert.Equal(t, "Alice", ev.Outcomes[0].Name)
	assert.True(t, ev.PriceSum().Equal(decimal.RequireFromString("0.55")))
}

func TestPollWithoutEvents(t *testing.T) {
	srv := newServer(t)
	up, err := NewGammaClient(srv.URL, 25, false).Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, up.Markets, 2)
	assert.Empty(t, up.Multi)
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewGammaClient(srv.URL, 0, false).Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
