// Package bus provides topic naming, payload encoding and an in-process
// implementation of domain.Bus.
package bus

import "strings"

// Fixed topics shared by the pipeline agents.
const (
	TopicOpportunities = "opportunities.detected"
	TopicAllocations   = "allocations.update"
	TopicTradeRequests = "trade.requests"
	TopicDecisions     = "trade.decisions"
	TopicResults       = "trade.results"
	TopicCommands      = "system.commands"
)

// PricesTopic is the binary market snapshot topic for a venue adapter.
func PricesTopic(adapter string) string { return "venue." + adapter + ".prices" }

// BooksTopic is the order book snapshot topic for a venue adapter.
func BooksTopic(adapter string) string { return "venue." + adapter + ".books" }

// MultiTopic is the multi-outcome snapshot topic for a named feed of an adapter.
func MultiTopic(adapter, name string) string { return "venue." + adapter + "." + name + ".multi" }

// OracleTopic is the measurement topic for one oracle symbol.
func OracleTopic(source, symbol string) string { return "oracle." + source + "." + symbol }

// Kind classifies a topic by its payload shape.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrices
	KindMulti
	KindBooks
	KindOracle
)

// Classify returns the payload kind carried by topic.
func Classify(topic string) Kind {
	switch {
	case strings.HasPrefix(topic, "oracle."):
		if strings.Count(topic, ".") >= 2 {
			return KindOracle
		}
	case strings.HasPrefix(topic, "venue."):
		switch {
		case strings.HasSuffix(topic, ".prices"):
			return KindPrices
		case strings.HasSuffix(topic, ".books"):
			return KindBooks
		case strings.HasSuffix(topic, ".multi"):
			return KindMulti
		}
	}
	return KindUnknown
}

// ParseOracleTopic splits "oracle.<source>.<symbol>". Symbols may contain dots.
func ParseOracleTopic(topic string) (source, symbol string, ok bool) {
	rest, found := strings.CutPrefix(topic, "oracle.")
	if !found {
		return "", "", false
	}
	source, symbol, ok = strings.Cut(rest, ".")
	if !ok || source == "" || symbol == "" {
		return "", "", false
	}
	return source, symbol, true
}
