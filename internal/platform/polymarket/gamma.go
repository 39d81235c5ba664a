// Package polymarket reads market snapshots from the Polymarket Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform"
)

// Venue is the venue prefix of Polymarket market ids.
const Venue = "polymarket"

// DefaultGammaURL is the public Gamma API root.
const DefaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and current outcome prices.
type GammaClient struct {
	baseURL    string
	limit      int
	events     bool
	httpClient *http.Client
	now        func() time.Time
}

// NewGammaClient creates a new Gamma API client. limit caps markets and
// events per poll; events enables multi-outcome snapshots from neg-risk
// events. An empty baseURL selects the public API.
func NewGammaClient(baseURL string, limit int, events bool) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	if limit <= 0 {
		limit = 100
	}
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		events:  events,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Venue returns the venue name used in topics.
func (g *GammaClient) Venue() string { return Venue }

// apiMarket is a market as returned by the Gamma API. Outcomes and prices
// arrive as JSON-encoded strings.
type apiMarket struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	GroupItemTitle string          `json:"groupItemTitle"`
	Closed         bool            `json:"closed"`
	Outcomes       string          `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices  string          `json:"outcomePrices"` // e.g. "[\"0.5\",\"0.5\"]"
	Volume24hr     decimal.Decimal `json:"volume24hr"`
	Liquidity      decimal.Decimal `json:"liquidity"`
}

type apiEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	NegRisk bool        `json:"negRisk"`
	Markets []apiMarket `json:"markets"`
}

// Poll fetches open markets and, when enabled, neg-risk events.
func (g *GammaClient) Poll(ctx context.Context) (platform.Update, error) {
	var up platform.Update

	markets, err := g.GetMarkets(ctx)
	if err != nil {
		return up, err
	}
	up.Markets = markets

	if g.events {
		multi, err := g.GetEvents(ctx)
		if err != nil {
			return up, err
		}
		up.Multi = multi
	}
	return up, nil
}

// GetMarkets returns the open binary markets.
func (g *GammaClient) GetMarkets(ctx context.Context) ([]domain.Market, error) {
	body, err := g.doGet(ctx, "/markets", g.openParams())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []apiMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	now := g.now().UTC()
	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		if m, ok := apiMarkets[i].toMarket(now); ok {
			markets = append(markets, m)
		}
	}
	return markets, nil
}

// GetEvents returns one multi-outcome snapshot per open neg-risk event. Each
// outcome is priced at its market's YES price.
func (g *GammaClient) GetEvents(ctx context.Context) ([]domain.MultiOutcomeMarket, error) {
	body, err := g.doGet(ctx, "/events", g.openParams())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []apiEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	now := g.now().UTC()
	out := make([]domain.MultiOutcomeMarket, 0, len(events))
	for _, ev := range events {
		if !ev.NegRisk || len(ev.Markets) < 2 {
			continue
		}
		mm := domain.MultiOutcomeMarket{
			ID:          domain.MarketID(Venue, "event-"+ev.ID),
			Venue:       Venue,
			Title:       ev.Title,
			LastUpdated: now,
		}
		for _, m := range ev.Markets {
			if m.Closed {
				continue
			}
			yes, _, ok := m.yesNo()
			if !ok {
				continue
			}
			name := m.GroupItemTitle
			if name == "" {
				name = m.Question
			}
			mm.Outcomes = append(mm.Outcomes, domain.Outcome{Name: name, Price: yes})
		}
		if len(mm.Outcomes) >= 2 {
			out = append(out, mm)
		}
	}
	return out, nil
}

func (g *GammaClient) openParams() url.Values {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(g.limit))
	return params
}

func (m *apiMarket) toMarket(now time.Time) (domain.Market, bool) {
	if m.ID == "" || m.Closed {
		return domain.Market{}, false
	}
	yes, no, ok := m.yesNo()
	if !ok {
		return domain.Market{}, false
	}
	return domain.Market{
		ID:          domain.MarketID(Venue, m.ID),
		Venue:       Venue,
		Title:       m.Question,
		YesPrice:    yes,
		NoPrice:     no,
		Volume24h:   m.Volume24hr,
		Liquidity:   m.Liquidity,
		LastUpdated: now,
	}, true
}

// yesNo decodes the outcome price pair of a binary Yes/No market.
func (m *apiMarket) yesNo() (yes, no decimal.Decimal, ok bool) {
	var outcomes, prices []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return yes, no, false
	}
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
		return yes, no, false
	}
	if len(outcomes) != 2 || len(prices) != 2 {
		return yes, no, false
	}
	var gotYes, gotNo bool
	for i, o := range outcomes {
		p, err := decimal.NewFromString(prices[i])
		if err != nil {
			return yes, no, false
		}
		switch strings.ToLower(o) {
		case "yes":
			yes, gotYes = p, true
		case "no":
			no, gotNo = p, true
		}
	}
	return yes, no, gotYes && gotNo
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := g.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ platform.Source = (*GammaClient)(nil)
