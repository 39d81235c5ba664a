// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetected counts emitted opportunities by type.
	OpportunitiesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_opportunities_detected_total",
		Help: "Total number of opportunities emitted by the scanner",
	}, []string{"type"})

	// OpportunitiesSuppressed counts detection candidates dropped by a filter.
	OpportunitiesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_opportunities_suppressed_total",
		Help: "Detection candidates dropped by the scanner",
	}, []string{"reason"})

	OpportunityEdgeBPS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polyarb_opportunity_edge_bps",
		Help:    "Expected edge of emitted opportunities in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 3000},
	}, []string{"type"})

	RiskDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_risk_decisions_total",
		Help: "Risk guardian decisions by outcome and triggered rule",
	}, []string{"outcome", "rule"})

	// Exposure is the guardian's reserved exposure per venue in USD.
	Exposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "polyarb_exposure_usd",
		Help: "Reserved exposure per venue",
	}, []string{"venue"})

	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_trades_total",
		Help: "Trade results emitted by executors",
	}, []string{"status", "mode"})

	Allocation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "polyarb_allocation_pct",
		Help: "Current capital allocation fraction per strategy",
	}, []string{"strategy"})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_handler_failures_total",
		Help: "Messages whose handler returned an error or panicked",
	}, []string{"agent", "topic"})

	OracleReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_oracle_reconnects_total",
		Help: "Streaming oracle reconnect attempts",
	}, []string{"source"})

	// VenuePolls counts venue watcher polls by outcome.
	VenuePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_venue_polls_total",
		Help: "Venue watcher polls by outcome",
	}, []string{"venue", "outcome"})

	// HTTPRequests counts operator API requests by method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyarb_http_requests_total",
		Help: "Operator API requests by method and status",
	}, []string{"method", "status"})

	HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyarb_http_rate_limited_total",
		Help: "Operator API requests refused by the rate limiter",
	})

	ArchivedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyarb_archived_results_total",
		Help: "Trade results uploaded to the blob archive",
	})

	Halted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "polyarb_agent_halted",
		Help: "1 while an agent observes HALT_ALL",
	}, []string{"agent"})
)
