// Package kalshi reads market snapshots and order books from the Kalshi
// trade API.
package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform"
)

// Venue is the venue prefix of Kalshi market ids.
const Venue = "kalshi"

// DefaultBaseURL is the public trade API root.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

var cents = decimal.NewFromInt(100)

// Client is the REST client for the Kalshi exchange API. Market data is
// public; requests are signed only when a key is configured.
type Client struct {
	baseURL     string
	apiKeyID    string
	privateKey  *rsa.PrivateKey
	limit       int
	bookTickers []string
	httpClient  *http.Client
	now         func() time.Time
}

// NewClient creates a new Kalshi REST client. limit caps markets per poll
// and bookTickers selects the markets whose order books are fetched. An
// empty baseURL selects the public API.
func NewClient(baseURL string, limit int, bookTickers []string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limit <= 0 {
		limit = 100
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		limit:       limit,
		bookTickers: bookTickers,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// SetCredentials loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed requests.
func (c *Client) SetCredentials(apiKeyID string, pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.apiKeyID, c.privateKey = apiKeyID, pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.apiKeyID, c.privateKey = apiKeyID, rsaKey
	return nil
}

// Venue returns the venue name used in topics.
func (c *Client) Venue() string { return Venue }

// apiMarket is a market as returned by the Kalshi REST API. Prices are in
// cents.
type apiMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Status      string `json:"status"` // "open", "closed", "settled"
	YesAsk      int64  `json:"yes_ask"`
	NoAsk       int64  `json:"no_ask"`
	Volume24H   int64  `json:"volume_24h"`
	Liquidity   int64  `json:"liquidity"` // cents
}

// apiOrderbook holds resting bids as [price_cents, quantity] pairs, lowest
// price first.
type apiOrderbook struct {
	Yes [][2]int64 `json:"yes"`
	No  [][2]int64 `json:"no"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Poll fetches open markets and the order books of the configured tickers.
func (c *Client) Poll(ctx context.Context) (platform.Update, error) {
	var up platform.Update

	markets, err := c.GetMarkets(ctx)
	if err != nil {
		return up, err
	}
	up.Markets = markets

	for _, ticker := range c.bookTickers {
		book, err := c.GetOrderbook(ctx, ticker)
		if err != nil {
			return up, err
		}
		up.Books = append(up.Books, book)
	}
	return up, nil
}

// GetMarkets returns open markets priced at their asks, the cost of buying
// each side.
func (c *Client) GetMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := c.doRequest(ctx, "/markets", params)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get markets: %w", err)
	}

	var resp struct {
		Markets []apiMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode markets: %w", err)
	}

	now := c.now().UTC()
	out := make([]domain.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		if m.Ticker == "" || (m.Status != "" && m.Status != "open" && m.Status != "active") {
			continue
		}
		out = append(out, domain.Market{
			ID:          domain.MarketID(Venue, m.Ticker),
			Venue:       Venue,
			Title:       m.Title,
			YesPrice:    decimal.NewFromInt(m.YesAsk).Div(cents),
			NoPrice:     decimal.NewFromInt(m.NoAsk).Div(cents),
			Volume24h:   decimal.NewFromInt(m.Volume24H),
			Liquidity:   decimal.NewFromInt(m.Liquidity).Div(cents),
			LastUpdated: now,
		})
	}
	return out, nil
}

// GetOrderbook returns the YES book of ticker. Kalshi only lists bids; a NO
// bid at p is a YES ask at 1 - p.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (domain.OrderBook, error) {
	body, err := c.doRequest(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook apiOrderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}
	return resp.Orderbook.toDomain(domain.MarketID(Venue, ticker), c.now().UTC()), nil
}

func (ob apiOrderbook) toDomain(marketID string, ts time.Time) domain.OrderBook {
	book := domain.OrderBook{MarketID: marketID, Timestamp: ts}
	for _, l := range ob.Yes {
		book.Bids = append(book.Bids, domain.PriceLevel{
			Price: decimal.NewFromInt(l[0]).Div(cents),
			Size:  decimal.NewFromInt(l[1]),
		})
	}
	for _, l := range ob.No {
		book.Asks = append(book.Asks, domain.PriceLevel{
			Price: decimal.NewFromInt(100 - l[0]).Div(cents),
			Size:  decimal.NewFromInt(l[1]),
		})
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.privateKey != nil {
		// The signature covers the full API path, without the query string.
		u, err := url.Parse(c.baseURL + path)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		if err := c.signRequest(req, http.MethodGet, u.Path); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request.
// Kalshi uses RSA-PSS-SHA256 signatures over the timestamp + method + path
// message string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: %w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: unauthorized: %s (%s)", msg, apiErr.Error.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: rate limited: %s", msg)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, msg, apiErr.Error.Code)
	}
}

var _ platform.Source = (*Client)(nil)
