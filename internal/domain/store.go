package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	Strategy string
	Since    *time.Time
}

// TradeJournal persists every trade result emitted by the executor.
type TradeJournal interface {
	Record(ctx context.Context, res TradeResult) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeResult, error)
}

// OrderPlacer submits a live order to a venue adapter. Adapters own routing,
// signing and authentication.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req TradeRequest) (Trade, error)
}

// Alert is an operator notification.
type Alert struct {
	Event   string // "halt", "fill", "kill_switch", ...
	Title   string
	Message string
}

// AlertSink delivers operator notifications. Implementations filter by event.
type AlertSink interface {
	Notify(ctx context.Context, a Alert) error
}

// RateLimiter admits at most limit requests per window for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// AuditEntry is one recorded operator or maintenance event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditLog is an append-only record of operator commands and archive runs.
type AuditLog interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter stores an object under path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
