package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackoffBounds(t *testing.T) {
	bo := NewBackoff(time.Second, 5*time.Second)
	var got []time.Duration
	for range 5 {
		got = append(got, bo.Next())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
	bo.Reset()
	assert.Equal(t, time.Second, bo.Next())

	inverted := NewBackoff(3*time.Second, time.Second)
	assert.Equal(t, 3*time.Second, inverted.Next())
	assert.Equal(t, 3*time.Second, inverted.Next())
}

// scriptStep is one Connect outcome: an error, or a stream that yields reads
// then fails.
type scriptStep struct {
	connectErr error
	reads      int
}

type scriptedStreamer struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
}

func (s *scriptedStreamer) Name() string { return "fake" }

func (s *scriptedStreamer) Connect(context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.steps) {
		s.calls++
		return nil, errors.New("exhausted")
	}
	step := s.steps[s.calls]
	s.calls++
	if step.connectErr != nil {
		return nil, step.connectErr
	}
	return &scriptedStream{left: step.reads}, nil
}

type scriptedStream struct{ left int }

func (s *scriptedStream) Recv(context.Context) ([]domain.OracleData, error) {
	if s.left == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	s.left--
	return []domain.OracleData{{Symbol: "BTCUSDT", Value: decimal.NewFromInt(101000), Timestamp: time.Now()}}, nil
}

func (s *scriptedStream) Close() error { return nil }

func TestStreamReconnectBackoffResetsAfterRead(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedStreamer{steps: []scriptStep{
		{connectErr: errors.New("refused")},
		{connectErr: errors.New("refused")},
		{reads: 0}, // connects, drops before any read
		{reads: 2},
		{connectErr: errors.New("refused")},
	}}
	cfg := DefaultConfig()
	cfg.ReconnectFloor = time.Second
	cfg.ReconnectCeiling = 3 * time.Second
	a := NewStreaming(b, cfg, src, quiet())

	var delays []time.Duration
	a.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 5 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	require.NoError(t, a.runStream(ctx))

	assert.Equal(t, []time.Duration{
		time.Second,     // refused
		2 * time.Second, // refused
		3 * time.Second, // dropped without a read: no reset, capped
		time.Second,     // dropped after reads: reset
		2 * time.Second, // refused
	}, delays)
	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, 2, b.Len(bus.OracleTopic("fake", "BTCUSDT")))
	assert.EqualValues(t, 5, a.Snapshot().Details["reconnects"])
}

type staticPoller struct {
	data []domain.OracleData
	err  error
}

func (p staticPoller) Name() string { return "fred" }

func (p staticPoller) Poll(context.Context) ([]domain.OracleData, error) { return p.data, p.err }

func TestPollPublishesPerSymbolTopic(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	ctx := context.Background()
	a := NewPolling(b, DefaultConfig(), staticPoller{data: []domain.OracleData{
		{Symbol: "DFF", Value: decimal.RequireFromString("5.33")},
		{Symbol: ""},
	}}, quiet())
	require.NoError(t, a.Runner().Setup(ctx))
	require.NoError(t, b.CreateGroup(ctx, bus.OracleTopic("fred", "DFF"), "scanner"))

	require.NoError(t, a.PollOnce(ctx))

	msgs, err := b.Consume(ctx, bus.OracleTopic("fred", "DFF"), "scanner", "s", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var got domain.OracleData
	require.NoError(t, bus.Decode(msgs[0].Payload, &got))
	assert.Equal(t, "fred", got.Source, "source defaults to the agent's")
	assert.True(t, got.Value.Equal(decimal.RequireFromString("5.33")))
	assert.Equal(t, "oracle_fred", a.Snapshot().Name)
}

func TestPollError(t *testing.T) {
	a := NewPolling(bus.NewMemoryBus(bus.MemoryConfig{}), DefaultConfig(), staticPoller{err: errors.New("503")}, quiet())
	assert.Error(t, a.PollOnce(context.Background()))
}

func TestHaltedAgentStopsPublishing(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	ctx := context.Background()
	a := NewPolling(b, DefaultConfig(), staticPoller{data: []domain.OracleData{
		{Symbol: "DFF", Value: decimal.RequireFromString("5.33")},
	}}, quiet())
	require.NoError(t, a.Runner().Setup(ctx))

	_, err := bus.PublishJSON(ctx, b, bus.TopicCommands, domain.Command{Command: domain.CommandHaltAll})
	require.NoError(t, err)
	require.NoError(t, a.Runner().RunOnce(ctx))
	require.True(t, a.Runner().Halted())

	require.NoError(t, a.PollOnce(ctx))
	assert.Equal(t, 0, b.Len(bus.OracleTopic("fred", "DFF")))
	assert.EqualValues(t, 1, a.Snapshot().Details["dropped"])

	_, err = bus.PublishJSON(ctx, b, bus.TopicCommands, domain.Command{Command: domain.CommandResumeAll})
	require.NoError(t, err)
	require.NoError(t, a.Runner().RunOnce(ctx))
	require.NoError(t, a.PollOnce(ctx))
	assert.Equal(t, 1, b.Len(bus.OracleTopic("fred", "DFF")))
}

func TestParseMiniTicker(t *testing.T) {
	msg := `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1767225600000,"s":"BTCUSDT","c":"101000.50","o":"99000","h":"102000","l":"98000","v":"1234.5","q":"1"}}`
	d, ok := parseMiniTicker([]byte(msg))
	require.True(t, ok)
	assert.Equal(t, "binance", d.Source)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.True(t, d.Value.Equal(decimal.RequireFromString("101000.5")))
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), d.Timestamp)
	assert.Equal(t, "102000", d.Metadata["high"])

	_, ok = parseMiniTicker([]byte(`{"result":null,"id":1}`))
	assert.False(t, ok)
}

func TestBinanceStreamerAgainstServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotStreams string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStreams = r.URL.Query().Get("streams")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"3500.1","o":"1","h":"1","l":"1","v":"1"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	s := NewBinanceStreamer("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTCUSDT", "ETHUSDT"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := s.Connect(ctx)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "btcusdt@miniTicker/ethusdt@miniTicker", gotStreams)

	data, err := stream.Recv(ctx)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "ETHUSDT", data[0].Symbol)
	assert.True(t, data[0].Value.Equal(decimal.RequireFromString("3500.1")))
}

func TestBinancePoller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		sym := r.URL.Query().Get("symbol")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"symbol":"`+sym+`","price":"64000.01000000"}`)
	}))
	defer srv.Close()

	p := NewBinancePoller(srv.URL, []string{"btcusdt"})
	data, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "BTCUSDT", data[0].Symbol)
	assert.True(t, data[0].Value.Equal(decimal.RequireFromString("64000.01")))
}
