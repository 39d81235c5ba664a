package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	// BinanceStreamURL is the combined-stream endpoint.
	BinanceStreamURL = "wss://stream.binance.com:9443/stream"
	// BinanceRESTURL is the spot REST API base.
	BinanceRESTURL = "https://api.binance.com"

	binanceSource = "binance"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second
)

// BinanceStreamer streams 24h mini-ticker updates for a set of symbols.
type BinanceStreamer struct {
	url     string
	symbols []string
	dialer  websocket.Dialer
}

// NewBinanceStreamer creates a streamer for symbols such as "BTCUSDT". An
// empty baseURL selects the public endpoint.
func NewBinanceStreamer(baseURL string, symbols []string) *BinanceStreamer {
	if baseURL == "" {
		baseURL = BinanceStreamURL
	}
	return &BinanceStreamer{
		url:     baseURL,
		symbols: symbols,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Name returns the source name used in topics.
func (s *BinanceStreamer) Name() string { return binanceSource }

// Connect dials the combined stream for every configured symbol.
func (s *BinanceStreamer) Connect(ctx context.Context) (Stream, error) {
	if len(s.symbols) == 0 {
		return nil, fmt.Errorf("binance/ws: no symbols configured")
	}
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@miniTicker"
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("binance/ws: parse url: %w", err)
	}
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance/ws: connect: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &binanceStream{conn: conn}, nil
}

type binanceStream struct {
	conn *websocket.Conn
}

// binanceEnvelope wraps every combined-stream message.
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceMiniTicker struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Close     decimal.Decimal `json:"c"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Volume    decimal.Decimal `json:"v"`
}

// Recv reads messages until one yields a ticker. A cancelled ctx closes the
// connection to unblock the read.
func (s *binanceStream) Recv(ctx context.Context) ([]domain.OracleData, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("binance/ws: read: %w", err)
		}
		data, ok := parseMiniTicker(msg)
		if ok {
			return []domain.OracleData{data}, nil
		}
	}
}

func (s *binanceStream) Close() error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

// parseMiniTicker accepts both the combined envelope and a raw ticker.
func parseMiniTicker(msg []byte) (domain.OracleData, bool) {
	payload := msg
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}
	var t binanceMiniTicker
	if err := json.Unmarshal(payload, &t); err != nil || t.Event != "24hrMiniTicker" || t.Symbol == "" {
		return domain.OracleData{}, false
	}
	ts := time.Now().UTC()
	if t.EventTime > 0 {
		ts = time.UnixMilli(t.EventTime).UTC()
	}
	return domain.OracleData{
		Source:    binanceSource,
		Symbol:    t.Symbol,
		Value:     t.Close,
		Timestamp: ts,
		Metadata: map[string]string{
			"open":   t.Open.String(),
			"high":   t.High.String(),
			"low":    t.Low.String(),
			"volume": t.Volume.String(),
		},
	}, true
}

// BinancePoller reads spot prices from the REST ticker endpoint.
type BinancePoller struct {
	baseURL string
	symbols []string
	http    *http.Client
}

// NewBinancePoller creates a poller. An empty baseURL selects the public API.
func NewBinancePoller(baseURL string, symbols []string) *BinancePoller {
	if baseURL == "" {
		baseURL = BinanceRESTURL
	}
	return &BinancePoller{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbols: symbols,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the source name used in topics.
func (p *BinancePoller) Name() string { return binanceSource }

type binanceTickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Poll fetches the last price of every configured symbol.
func (p *BinancePoller) Poll(ctx context.Context) ([]domain.OracleData, error) {
	out := make([]domain.OracleData, 0, len(p.symbols))
	for _, sym := range p.symbols {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			p.baseURL+"/api/v3/ticker/price?symbol="+url.QueryEscape(strings.ToUpper(sym)), nil)
		if err != nil {
			return out, fmt.Errorf("binance/rest: build request: %w", err)
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return out, fmt.Errorf("binance/rest: %s: %w", sym, err)
		}
		var tp binanceTickerPrice
		err = json.NewDecoder(resp.Body).Decode(&tp)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return out, fmt.Errorf("binance/rest: %s: status %d", sym, resp.StatusCode)
		}
		if err != nil {
			return out, fmt.Errorf("binance/rest: decode %s: %w", sym, err)
		}
		out = append(out, domain.OracleData{
			Source:    binanceSource,
			Symbol:    tp.Symbol,
			Value:     tp.Price,
			Timestamp: time.Now().UTC(),
		})
	}
	return out, nil
}

var (
	_ Streamer = (*BinanceStreamer)(nil)
	_ Poller   = (*BinancePoller)(nil)
)
