package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityType discriminates the opportunity variants.
type OpportunityType string

const (
	OppCrossPlatform OpportunityType = "cross_platform"
	OppOracleLag     OpportunityType = "oracle_lag"
	OppTemporal      OpportunityType = "temporal"
	OppMispricing    OpportunityType = "mispricing"
)

// Valid reports whether t is a known opportunity type.
func (t OpportunityType) Valid() bool {
	switch t {
	case OppCrossPlatform, OppOracleLag, OppTemporal, OppMispricing:
		return true
	}
	return false
}

// Direction is the side of a threshold an oracle condition tests.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// OpportunityMetadata is the typed payload carried by an Opportunity. Exactly
// one concrete record exists per OpportunityType.
type OpportunityMetadata interface {
	OpportunityType() OpportunityType
}

// MispricingMetadata describes a single-condition or multi-outcome mispricing.
type MispricingMetadata struct {
	Kind     string          `json:"kind"` // "binary" or "multi_outcome"
	YesPrice decimal.Decimal `json:"yes_price"` // zero for multi_outcome
	NoPrice  decimal.Decimal `json:"no_price"`
	Outcomes []Outcome       `json:"outcomes,omitempty"`
	PriceSum decimal.Decimal `json:"price_sum"`
}

func (MispricingMetadata) OpportunityType() OpportunityType { return OppMispricing }

// OracleLagMetadata records everything a strategy needs to pick a direction
// without re-running the fair price model.
type OracleLagMetadata struct {
	Symbol       string          `json:"symbol"`
	Threshold    decimal.Decimal `json:"threshold"`
	Direction    Direction       `json:"direction"`
	OracleValue  decimal.Decimal `json:"oracle_value"`
	Distance     decimal.Decimal `json:"distance"`
	FairPrice    decimal.Decimal `json:"fair_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Side         OutcomeSide     `json:"side"`
	GrossEdge    decimal.Decimal `json:"gross_edge"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
}

func (OracleLagMetadata) OpportunityType() OpportunityType { return OppOracleLag }

// CrossPlatformMetadata names the cheap venue to buy and the expensive venue
// to sell or hedge.
type CrossPlatformMetadata struct {
	EventID      string          `json:"event_id"`
	BuyVenue     string          `json:"buy_venue"`
	BuyMarketID  string          `json:"buy_market_id"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellVenue    string          `json:"sell_venue"`
	SellMarketID string          `json:"sell_market_id"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	GrossEdge    decimal.Decimal `json:"gross_edge"`
	FeeRate      decimal.Decimal `json:"fee_rate"` // charged on the buy leg
}

func (CrossPlatformMetadata) OpportunityType() OpportunityType { return OppCrossPlatform }

// TemporalMetadata describes a price that moved faster than its window allows.
type TemporalMetadata struct {
	WindowSecs  decimal.Decimal `json:"window_secs"`
	PriceBefore decimal.Decimal `json:"price_before"`
	PriceAfter  decimal.Decimal `json:"price_after"`
}

func (TemporalMetadata) OpportunityType() OpportunityType { return OppTemporal }

// Opportunity is an accepted detection emitted by the scanner. It is never
// mutated after emission.
type Opportunity struct {
	ID             string              `json:"id"`
	Type           OpportunityType     `json:"type"`
	Markets        []Market            `json:"markets"`
	OracleSource   string              `json:"oracle_source,omitempty"`
	OracleValue    *decimal.Decimal    `json:"oracle_value,omitempty"`
	ExpectedEdge   decimal.Decimal     `json:"expected_edge"`
	SignalStrength decimal.Decimal     `json:"signal_strength"`
	DetectedAt     time.Time           `json:"detected_at"`
	Metadata       OpportunityMetadata `json:"-"`
}

// PrimaryMarketID is the market an opportunity is keyed on for cooldowns.
func (o Opportunity) PrimaryMarketID() string {
	if m, ok := o.Metadata.(CrossPlatformMetadata); ok && m.BuyMarketID != "" {
		return m.BuyMarketID
	}
	if len(o.Markets) == 0 {
		return ""
	}
	return o.Markets[0].ID
}

type opportunityAlias Opportunity

type opportunityWire struct {
	opportunityAlias
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON writes the variant record under "metadata".
func (o Opportunity) MarshalJSON() ([]byte, error) {
	w := opportunityWire{opportunityAlias: opportunityAlias(o)}
	if o.Metadata != nil {
		if o.Metadata.OpportunityType() != o.Type {
			return nil, fmt.Errorf("opportunity %s: metadata type %s does not match %s",
				o.ID, o.Metadata.OpportunityType(), o.Type)
		}
		raw, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, fmt.Errorf("opportunity %s: marshal metadata: %w", o.ID, err)
		}
		w.Metadata = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes "metadata" into the record selected by "type".
func (o *Opportunity) UnmarshalJSON(data []byte) error {
	var w opportunityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Opportunity(w.opportunityAlias)
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown opportunity type %q", ErrInvalidPayload, o.Type)
	}
	if len(w.Metadata) == 0 || string(w.Metadata) == "null" {
		return nil
	}
	var (
		md  OpportunityMetadata
		err error
	)
	switch o.Type {
	case OppMispricing:
		var m MispricingMetadata
		err = json.Unmarshal(w.Metadata, &m)
		md = m
	case OppOracleLag:
		var m OracleLagMetadata
		err = json.Unmarshal(w.Metadata, &m)
		md = m
	case OppCrossPlatform:
		var m CrossPlatformMetadata
		err = json.Unmarshal(w.Metadata, &m)
		md = m
	case OppTemporal:
		var m TemporalMetadata
		err = json.Unmarshal(w.Metadata, &m)
		md = m
	}
	if err != nil {
		return fmt.Errorf("opportunity %s: decode %s metadata: %w", o.ID, o.Type, err)
	}
	o.Metadata = md
	return nil
}
