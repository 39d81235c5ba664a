package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/bus"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/server/middleware"
	"github.com/alanyoungcy/polyarb/internal/store/memory"
)

type staticProvider struct{ snap domain.AgentSnapshot }

func (p staticProvider) Snapshot() domain.AgentSnapshot { return p.snap }

type recordingSink struct{ alerts []domain.Alert }

func (r *recordingSink) Notify(_ context.Context, a domain.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type fixture struct {
	srv     *Server
	bus     *bus.MemoryBus
	sink    *recordingSink
	journal *memory.Journal
	audit   *memory.AuditLog
}

func newFixture(t *testing.T, cfg Config, checks map[string]handler.Check, limiter domain.RateLimiter) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.NewMemoryBus(bus.MemoryConfig{})
	sink := &recordingSink{}
	j := memory.NewJournal(10)
	audit := memory.NewAuditLog(10)
	providers := []domain.SnapshotProvider{
		staticProvider{domain.AgentSnapshot{Name: "scanner", Kind: "scanner", Running: true, Processed: 7}},
		staticProvider{domain.AgentSnapshot{Name: "executor", Kind: "executor", Halted: true}},
	}
	srv := NewServer(cfg, Handlers{
		Health:   handler.NewHealthHandler("paper", checks, logger),
		Agents:   handler.NewAgentsHandler(providers, logger),
		Commands: handler.NewCommandHandler(b, sink, audit, logger),
		Trades:   handler.NewTradeHandler(j, logger),
		Audit:    handler.NewAuditHandler(audit, logger),
	}, limiter, logger)
	require.NoError(t, b.CreateGroup(context.Background(), bus.TopicCommands, "observer"))
	return fixture{srv: srv, bus: b, sink: sink, journal: j, audit: audit}
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	}, nil)
	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paper", body["mode"])

	f = newFixture(t, Config{}, map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	rec = do(t, f.srv.Handler(), http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestAgents(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Agents []domain.AgentSnapshot `json:"agents"`
		Count  int                    `json:"count"`
		Halted int                    `json:"halted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 1, list.Halted)
	assert.Equal(t, "executor", list.Agents[0].Name, "sorted by name")

	rec = do(t, f.srv.Handler(), http.MethodGet, "/api/agents/scanner", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one domain.AgentSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.EqualValues(t, 7, one.Processed)

	rec = do(t, f.srv.Handler(), http.MethodGet, "/api/agents/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHaltPublishesCommand(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil, nil)
	h := f.srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/halt", `{"reason":"maintenance"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/halt", `{"reason":"maintenance","issued_by":"ops"}`,
		map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	msgs, err := f.bus.Consume(context.Background(), bus.TopicCommands, "observer", "o", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var cmd domain.Command
	require.NoError(t, bus.Decode(msgs[0].Payload, &cmd))
	assert.Equal(t, domain.CommandHaltAll, cmd.Command)
	assert.Equal(t, "maintenance", cmd.Reason)
	assert.Equal(t, "ops", cmd.IssuedBy)

	require.Len(t, f.sink.alerts, 1)
	assert.Equal(t, "halt", f.sink.alerts[0].Event)

	rec = do(t, h, http.MethodPost, "/api/resume", "", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	msgs, err = f.bus.Consume(context.Background(), bus.TopicCommands, "observer", "o", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, bus.Decode(msgs[0].Payload, &cmd))
	assert.Equal(t, domain.CommandResumeAll, cmd.Command)
	assert.Equal(t, "api", cmd.IssuedBy)

	rec = do(t, h, http.MethodPost, "/api/halt", `{not json`, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/audit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/audit?event=command.halt", "", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var audit struct {
		Entries []domain.AuditEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	require.Equal(t, 1, audit.Count)
	assert.Equal(t, "ops", audit.Entries[0].Detail["issued_by"])
	assert.Equal(t, "maintenance", audit.Entries[0].Detail["reason"])
}

func TestTradesAndMetrics(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	require.NoError(t, f.journal.Record(context.Background(), domain.TradeResult{
		Trade:    domain.Trade{ID: "t1", RequestID: "r1", Status: domain.TradeFilled, ExecutedAt: time.Now()},
		Strategy: "arb",
	}))

	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/trades?strategy=arb&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, f.srv.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORSAndRateLimit(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://dash.example"}, RateLimit: 2, RateWindow: time.Minute}, nil, middleware.NewLocalLimiter())
	h := f.srv.Handler()

	rec := do(t, h, http.MethodOptions, "/api/agents", "", map[string]string{"Origin": "https://dash.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	for range 2 {
		rec = do(t, h, http.MethodGet, "/api/agents", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/agents", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
