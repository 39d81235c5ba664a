package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Encode serializes v as JSON. Decimal fields encode as strings.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bus: encode %T: %w", v, err)
	}
	return data, nil
}

// Decode parses payload into v. Numbers in generic maps decode as json.Number
// so they survive a round trip without float conversion.
func Decode(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("bus: decode %T: %w: %w", v, domain.ErrInvalidPayload, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.Bus, topic string, v any) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", err
	}
	id, err := b.Publish(ctx, topic, data)
	if err != nil {
		return "", fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return id, nil
}
