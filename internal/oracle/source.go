// Package oracle runs real-world data sources and publishes their readings
// on oracle.<source>.<symbol> topics.
package oracle

import (
	"context"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Stream is one live connection to a streaming source.
type Stream interface {
	// Recv blocks until the next batch of readings arrives.
	Recv(ctx context.Context) ([]domain.OracleData, error)
	Close() error
}

// Streamer opens connections to a push-based source such as an exchange
// WebSocket.
type Streamer interface {
	Name() string
	Connect(ctx context.Context) (Stream, error)
}

// Poller fetches the current readings of a pull-based source such as a REST
// API.
type Poller interface {
	Name() string
	Poll(ctx context.Context) ([]domain.OracleData, error)
}

// State is the connection state of a streaming source.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
)
